// Command train builds the weighted multi-source batchers from per-sample
// event CSVs and trains the multi-class event classifier.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/hepnet/evclass/events"
	"github.com/hepnet/evclass/multibatch"
	"github.com/hepnet/evclass/report"
	"github.com/hepnet/evclass/trainer"
)

// defaultConfigJSON is written to --config's path when the file does not
// exist yet, so the default run configuration is available on disk for
// editing.
const defaultConfigJSON = `{
  "samples": [
    {"name": "sig_m400_s2", "label": 0, "spin": 2, "mass": 400, "loss_weight": 1.0},
    {"name": "sig_m700_s2", "label": 0, "spin": 2, "mass": 700, "loss_weight": 1.0},
    {"name": "ttbar", "label": 1, "spin": -1, "mass": -1, "loss_weight": 1.0},
    {"name": "dy", "label": 2, "spin": -1, "mass": -1, "loss_weight": 1.0}
  ],
  "columns": {
    "continuous": ["pt1", "eta1", "phi1", "pt2", "eta2", "phi2", "met", "mbb", "mtt"],
    "categorical": ["channel", "charge"],
    "weight": "weight",
    "event_number": "eventnumber"
  },
  "held_out_fold": 0,
  "validation_folds": 3,
  "batch_size": 512,
  "yield_valid_remainder": true,
  "hidden_units": [128, 128, 128],
  "learning_rate": 0.003,
  "max_epochs": 100,
  "steps_per_epoch": 500,
  "lr_patience": 4,
  "lr_factor": 0.5,
  "lr_reductions": 3,
  "stop_patience": 8
}`

type sampleConfig struct {
	Name       string  `json:"name"`
	Label      int     `json:"label"`
	Spin       int32   `json:"spin"`
	Mass       float32 `json:"mass"`
	LossWeight float64 `json:"loss_weight"`
}

type columnsConfig struct {
	Continuous  []string `json:"continuous"`
	Categorical []string `json:"categorical"`
	Weight      string   `json:"weight"`
	EventNumber string   `json:"event_number"`
}

type runConfig struct {
	Samples             []sampleConfig `json:"samples"`
	Columns             columnsConfig  `json:"columns"`
	HeldOutFold         int            `json:"held_out_fold"`
	ValidationFolds     int            `json:"validation_folds"`
	BatchSize           int            `json:"batch_size"`
	YieldValidRemainder bool           `json:"yield_valid_remainder"`
	HiddenUnits         []int          `json:"hidden_units"`
	LearningRate        float64        `json:"learning_rate"`
	MaxEpochs           int            `json:"max_epochs"`
	StepsPerEpoch       int            `json:"steps_per_epoch"`
	LRPatience          int            `json:"lr_patience"`
	LRFactor            float64        `json:"lr_factor"`
	LRReductions        int            `json:"lr_reductions"`
	StopPatience        int            `json:"stop_patience"`
}

// loadConfig reads the run configuration, writing the default file first if
// none exists.
func loadConfig(path string) (*runConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(defaultConfigJSON), 0o644); err != nil {
			return nil, errors.Wrap(err, "failed to write default config")
		}
		klog.Infof("wrote default configuration to %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	cfg := &runConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

func main() {
	var (
		configPath string
		dataDir    string
		outputDir  string
		seed       int64
		threads    int
	)

	cmd := &cobra.Command{
		Use:          "train",
		Short:        "Train the multi-class event classifier from per-sample event CSVs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			trainer.Setup(threads)
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cfg, dataDir, outputDir, seed)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "train.json", "run configuration file (created with defaults if missing)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "directory holding one <sample>.csv per sample")
	cmd.Flags().StringVar(&outputDir, "output-dir", "out", "directory for plots and reports")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed for fold selection, shuffling and parameter injection")
	cmd.Flags().IntVar(&threads, "threads", 0, "limit worker threads (0 = all cores)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *runConfig, dataDir, outputDir string, seed int64) error {
	samples := make([]events.Sample, len(cfg.Samples))
	for i, s := range cfg.Samples {
		samples[i] = events.Sample{
			Name:       s.Name,
			Label:      s.Label,
			Spin:       s.Spin,
			Mass:       s.Mass,
			LossWeight: s.LossWeight,
		}
	}

	ds, err := events.Build(dataDir, samples, events.BuildConfig{
		Columns: events.Columns{
			Continuous:  cfg.Columns.Continuous,
			Categorical: cfg.Columns.Categorical,
			Weight:      cfg.Columns.Weight,
			EventNumber: cfg.Columns.EventNumber,
		},
		Fold: events.FoldSplit{
			HeldOutFold:     cfg.HeldOutFold,
			ValidationFolds: cfg.ValidationFolds,
			Seed:            seed,
		},
		ParameterizeMass: true,
		ParameterizeSpin: true,
	})
	if err != nil {
		return err
	}
	klog.Infof("loaded %s training and %s validation events across %d samples",
		humanize.Comma(int64(ds.TrainRows)), humanize.Comma(int64(ds.ValidRows)), len(samples))

	inject := events.ParameterInjector(ds.Masses, ds.Spins, seed)
	trainBatcher, err := multibatch.New(ds.Train, cfg.BatchSize,
		multibatch.WithName("train"),
		multibatch.WithSeed(seed),
		multibatch.WithInputColumns(events.NumInputColumns),
		multibatch.WithTransform(inject),
	)
	if err != nil {
		return errors.Wrap(err, "building training batcher")
	}
	validOpts := []multibatch.Option{
		multibatch.WithName("validation"),
		multibatch.WithMode(multibatch.Validation),
		multibatch.WithSeed(seed),
		multibatch.WithInputColumns(events.NumInputColumns),
		multibatch.WithTransform(inject),
	}
	if cfg.YieldValidRemainder {
		validOpts = append(validOpts, multibatch.WithYieldRemainder())
	}
	validBatcher, err := multibatch.New(ds.Valid, cfg.BatchSize, validOpts...)
	if err != nil {
		return errors.Wrap(err, "building validation batcher")
	}
	klog.Infof("batch plan %v, %d validation batches per cycle",
		trainBatcher.BatchSizes(), validBatcher.BatchesPerCycle())

	model, err := trainer.NewModel(trainer.ModelConfig{
		ContWidth:   ds.ContWidth,
		CatWidth:    ds.CatWidth,
		NumClasses:  ds.NumClasses,
		HiddenUnits: cfg.HiddenUnits,
		ContMeans:   ds.ContMeans,
		ContVars:    ds.ContVars,
	})
	if err != nil {
		return err
	}

	history, err := trainer.Train(trainer.Config{
		LearningRate:  cfg.LearningRate,
		MaxEpochs:     cfg.MaxEpochs,
		StepsPerEpoch: cfg.StepsPerEpoch,
		LRPatience:    cfg.LRPatience,
		LRFactor:      cfg.LRFactor,
		LRReductions:  cfg.LRReductions,
		StopPatience:  cfg.StopPatience,
		Seed:          seed,
	}, model, trainBatcher, validBatcher)
	if err != nil {
		return err
	}

	if err := report.TrainingCurves(history, filepath.Join(outputDir, "history.png")); err != nil {
		return err
	}
	if err := report.LearningRateCurve(history, filepath.Join(outputDir, "learning_rate.png")); err != nil {
		return err
	}
	fmt.Printf("finished after %d epochs, best validation loss %.5f\n",
		len(history), bestValidLoss(history))
	return nil
}

func bestValidLoss(history trainer.History) float64 {
	best := history[0].ValidLoss
	for _, e := range history[1:] {
		if e.ValidLoss < best {
			best = e.ValidLoss
		}
	}
	return best
}
