package events

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/hepnet/evclass/multibatch"
)

// NumInputColumns is the number of leading column positions holding model
// inputs in every built source: continuous then categorical. The remaining
// positions hold the one-hot labels and the event weights.
const NumInputColumns = 2

// BuildConfig controls how samples are turned into batching sources.
type BuildConfig struct {
	// Columns to read from every sample CSV.
	Columns Columns

	// Fold selects the train/validation split.
	Fold FoldSplit

	// ParameterizeMass appends the sample's mass hypothesis as an extra
	// continuous input (-1 sentinel for backgrounds).
	ParameterizeMass bool

	// ParameterizeSpin appends the sample's spin hypothesis as an extra
	// categorical input (-1 sentinel for backgrounds).
	ParameterizeSpin bool

	// Workers bounds the CSV loading parallelism; 0 means one per sample.
	Workers int
}

// Dataset is the result of Build: one training and one validation source per
// sample, ready for the multibatch engine, plus the bookkeeping the model and
// the parameter injection transform need.
type Dataset struct {
	Samples    []Sample
	Train      []*multibatch.Source
	Valid      []*multibatch.Source
	NumClasses int

	// ContWidth and CatWidth are the final input widths, including the
	// parameterized mass and spin columns when enabled.
	ContWidth int
	CatWidth  int

	// Masses and Spins are the sorted signal hypothesis grids observed
	// across the samples.
	Masses []float32
	Spins  []int32

	// ContMeans and ContVars are per-column normalization statistics of the
	// training set, weighted by the samples' batch weights so every class
	// contributes equally.
	ContMeans []float32
	ContVars  []float32

	TrainRows int
	ValidRows int
}

// Build loads every sample, splits it into train and validation rows by
// event-number fold, and assembles per-sample weighted sources with the
// column tuple (continuous, categorical, one-hot labels, event weights).
func Build(dataDir string, samples []Sample, cfg BuildConfig) (*Dataset, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples given")
	}
	numClasses := ClassCount(samples)
	if numClasses < 2 {
		return nil, errors.Errorf("need at least 2 classes, got %d", numClasses)
	}
	for _, s := range samples {
		if s.Label < 0 || s.Label >= numClasses {
			return nil, errors.Errorf("sample %q has label %d outside [0, %d)", s.Name, s.Label, numClasses)
		}
	}

	if len(cfg.Columns.Continuous) == 0 {
		return nil, errors.New("no continuous input columns configured")
	}
	if len(cfg.Columns.Categorical) == 0 && !cfg.ParameterizeSpin {
		return nil, errors.New("no categorical input columns configured")
	}

	loader := &Loader{DataDir: dataDir, Columns: cfg.Columns, Workers: cfg.Workers}
	data, err := loader.LoadAll(samples)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Samples:    samples,
		NumClasses: numClasses,
		ContWidth:  len(cfg.Columns.Continuous),
		CatWidth:   len(cfg.Columns.Categorical),
	}
	if cfg.ParameterizeMass {
		ds.ContWidth++
	}
	if cfg.ParameterizeSpin {
		ds.CatWidth++
	}

	massSet := make(map[float32]bool)
	spinSet := make(map[int32]bool)
	weights := BatchWeights(samples)

	// Weighted accumulation of per-column sums for normalization.
	sumW := 0.0
	colSum := make([]float64, ds.ContWidth)
	colSumSq := make([]float64, ds.ContWidth)

	for i, sample := range samples {
		if cfg.ParameterizeMass && sample.Mass > -1 {
			massSet[sample.Mass] = true
		}
		if cfg.ParameterizeSpin && sample.Spin > -1 {
			spinSet[sample.Spin] = true
		}

		trainMask, validMask, err := cfg.Fold.Masks(data[i].events)
		if err != nil {
			return nil, err
		}

		trainSrc, trainRows, err := buildSource(sample, data[i], trainMask, cfg, numClasses, weights[i])
		if err != nil {
			return nil, errors.Wrapf(err, "sample %q (train)", sample.Name)
		}
		validSrc, validRows, err := buildSource(sample, data[i], validMask, cfg, numClasses, weights[i])
		if err != nil {
			return nil, errors.Wrapf(err, "sample %q (validation)", sample.Name)
		}
		ds.Train = append(ds.Train, trainSrc)
		ds.Valid = append(ds.Valid, validSrc)
		ds.TrainRows += trainRows
		ds.ValidRows += validRows

		// Per-sample contribution to the normalization statistics, scaled so
		// each sample counts with its batch weight regardless of its size.
		cont := trainSrc.Columns()[0].(*multibatch.Float32Column)
		scale := weights[i] / float64(trainRows)
		for r := 0; r < trainRows; r++ {
			row := cont.Row(r)
			for c, v := range row {
				colSum[c] += float64(v) * scale
				colSumSq[c] += float64(v) * float64(v) * scale
			}
		}
		sumW += weights[i]

		klog.V(1).Infof("sample %q: %d training rows, %d validation rows, batch weight %.3f",
			sample.Name, trainRows, validRows, weights[i])
	}

	ds.Masses = sortedKeysFloat32(massSet)
	ds.Spins = sortedKeysInt32(spinSet)
	if cfg.ParameterizeMass && len(ds.Masses) == 0 {
		return nil, errors.New("mass parameterization enabled but no sample declares a mass")
	}
	if cfg.ParameterizeSpin && len(ds.Spins) == 0 {
		return nil, errors.New("spin parameterization enabled but no sample declares a spin")
	}

	ds.ContMeans = make([]float32, ds.ContWidth)
	ds.ContVars = make([]float32, ds.ContWidth)
	for c := range ds.ContMeans {
		mean := colSum[c] / sumW
		ds.ContMeans[c] = float32(mean)
		ds.ContVars[c] = float32(colSumSq[c]/sumW - mean*mean)
	}
	if cfg.ParameterizeMass {
		// The sentinel -1 rows would skew the mass column; use the plain
		// statistics of the hypothesis grid instead.
		mean, variance := float32Stats(ds.Masses)
		ds.ContMeans[ds.ContWidth-1] = mean
		ds.ContVars[ds.ContWidth-1] = variance
	}

	return ds, nil
}

// buildSource assembles the masked rows of one sample into a multibatch
// source with columns (continuous, categorical, labels, weights).
func buildSource(sample Sample, d *sampleData, mask []bool, cfg BuildConfig,
	numClasses int, weight float64) (*multibatch.Source, int, error) {

	rows := 0
	for _, keep := range mask {
		if keep {
			rows++
		}
	}
	if rows == 0 {
		return nil, 0, errors.New("no rows selected by fold split")
	}

	contWidth := len(cfg.Columns.Continuous)
	catWidth := len(cfg.Columns.Categorical)
	outContWidth := contWidth
	if cfg.ParameterizeMass {
		outContWidth++
	}
	outCatWidth := catWidth
	if cfg.ParameterizeSpin {
		outCatWidth++
	}

	cont := make([]float32, 0, rows*outContWidth)
	cat := make([]int32, 0, rows*outCatWidth)
	labels := make([]float32, rows*numClasses)
	eventWeights := make([]float32, 0, rows)

	out := 0
	for r, keep := range mask {
		if !keep {
			continue
		}
		cont = append(cont, d.cont[r*contWidth:(r+1)*contWidth]...)
		if cfg.ParameterizeMass {
			cont = append(cont, sample.Mass)
		}
		cat = append(cat, d.cat[r*catWidth:(r+1)*catWidth]...)
		if cfg.ParameterizeSpin {
			cat = append(cat, sample.Spin)
		}
		labels[out*numClasses+sample.Label] = 1
		eventWeights = append(eventWeights, d.weights[r])
		out++
	}

	contCol, err := multibatch.NewFloat32Column(cont, outContWidth)
	if err != nil {
		return nil, 0, err
	}
	catCol, err := multibatch.NewInt32Column(cat, outCatWidth)
	if err != nil {
		return nil, 0, err
	}
	labelCol, err := multibatch.NewFloat32Column(labels, numClasses)
	if err != nil {
		return nil, 0, err
	}
	weightCol, err := multibatch.NewFloat32Column(eventWeights, 1)
	if err != nil {
		return nil, 0, err
	}

	src, err := multibatch.NewSource(sample.Name, weight, contCol, catCol, labelCol, weightCol)
	if err != nil {
		return nil, 0, err
	}
	return src, rows, nil
}

func sortedKeysFloat32(set map[float32]bool) []float32 {
	out := make([]float32, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeysInt32(set map[int32]bool) []int32 {
	out := make([]int32, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func float32Stats(values []float32) (mean, variance float32) {
	if len(values) == 0 {
		return 0, 0
	}
	sum, sumSq := 0.0, 0.0
	for _, v := range values {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	m := sum / float64(len(values))
	return float32(m), float32(math.Max(sumSq/float64(len(values))-m*m, 0))
}
