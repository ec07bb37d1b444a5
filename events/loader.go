package events

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Columns names the CSV columns to read for every sample.
type Columns struct {
	// Continuous lists the float-valued input columns, in model input order.
	Continuous []string

	// Categorical lists the integer-encoded input columns.
	Categorical []string

	// Weight is the per-event weight column.
	Weight string

	// EventNumber is the column used for fold splitting.
	EventNumber string
}

// sampleData holds one fully loaded sample as flat row-major buffers.
type sampleData struct {
	cont    []float32 // rows * len(Columns.Continuous)
	cat     []int32   // rows * len(Columns.Categorical)
	weights []float32 // rows
	events  []int64   // rows
	rows    int
}

// Loader reads sample CSV files from a data directory, one file per sample,
// fanning the per-sample reads out over a worker pool.
type Loader struct {
	// DataDir holds one <sample name>.csv per sample.
	DataDir string

	// Columns to extract from every file.
	Columns Columns

	// Workers bounds the loading parallelism; 0 means one per sample.
	Workers int
}

// LoadAll reads every sample file. Results are returned in sample order.
func (l *Loader) LoadAll(samples []Sample) ([]*sampleData, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples given")
	}
	workers := l.Workers
	if workers <= 0 || workers > len(samples) {
		workers = len(samples)
	}

	data := make([]*sampleData, len(samples))
	errs := make([]error, len(samples))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				data[i], errs[i] = l.loadSample(samples[i])
			}
		}()
	}
	for i := range samples {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "loading sample %q", samples[i].Name)
		}
	}
	return data, nil
}

// loadSample reads one sample CSV into flat buffers, applying the sample's
// loss weight to every event weight.
func (l *Loader) loadSample(sample Sample) (*sampleData, error) {
	path := filepath.Join(l.DataDir, sample.Name+".csv")
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CSV")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.TrimSpace(strings.ToLower(col))] = i
	}
	find := func(name string) (int, error) {
		idx, ok := colIndex[strings.ToLower(name)]
		if !ok {
			return 0, errors.Errorf("required column %q not found in %s", name, path)
		}
		return idx, nil
	}

	contIdx := make([]int, len(l.Columns.Continuous))
	for i, name := range l.Columns.Continuous {
		if contIdx[i], err = find(name); err != nil {
			return nil, err
		}
	}
	catIdx := make([]int, len(l.Columns.Categorical))
	for i, name := range l.Columns.Categorical {
		if catIdx[i], err = find(name); err != nil {
			return nil, err
		}
	}
	weightIdx, err := find(l.Columns.Weight)
	if err != nil {
		return nil, err
	}
	eventIdx, err := find(l.Columns.EventNumber)
	if err != nil {
		return nil, err
	}

	d := &sampleData{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read row %d", d.rows)
		}
		for _, idx := range contIdx {
			v, err := parseFloat32(record[idx])
			if err != nil {
				return nil, errors.Wrapf(err, "row %d column %q", d.rows, header[idx])
			}
			d.cont = append(d.cont, v)
		}
		for _, idx := range catIdx {
			v, err := parseInt32(record[idx])
			if err != nil {
				return nil, errors.Wrapf(err, "row %d column %q", d.rows, header[idx])
			}
			d.cat = append(d.cat, v)
		}
		w, err := parseFloat32(record[weightIdx])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d column %q", d.rows, l.Columns.Weight)
		}
		d.weights = append(d.weights, w*float32(sample.LossWeight))
		e, err := parseInt64(record[eventIdx])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d column %q", d.rows, l.Columns.EventNumber)
		}
		d.events = append(d.events, e)
		d.rows++
	}
	if d.rows == 0 {
		return nil, errors.Errorf("sample file %s has no events", path)
	}

	klog.V(1).Infof("loaded %s events from %s", humanize.Comma(int64(d.rows)), path)
	return d, nil
}
