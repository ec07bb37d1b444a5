package multibatch

import (
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Source is one physical-process-specific collection of same-length parallel
// columns (continuous features, categorical features, labels, weights, ...)
// together with a relative sampling weight. Sources are immutable after
// construction; the engine only ever reads the underlying buffers, so they
// may be shared with the caller.
type Source struct {
	name    string
	columns []Column
	weight  float64
	rows    int
}

// NewSource validates and wraps a set of parallel columns. All columns must
// hold the same number of rows and at least one row. The relative weight must
// be finite and non-negative; a zero weight is allowed and means the source
// is carried but never contributes rows.
func NewSource(name string, weight float64, columns ...Column) (*Source, error) {
	if len(columns) == 0 {
		return nil, errors.Errorf("source %q has no columns", name)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return nil, errors.Errorf("source %q has invalid weight %v", name, weight)
	}
	rows := columns[0].Rows()
	if rows == 0 {
		return nil, errors.Errorf("source %q has no rows", name)
	}
	for i, col := range columns {
		if col.Rows() != rows {
			return nil, errors.Errorf("source %q column %d has %d rows, want %d", name, i, col.Rows(), rows)
		}
	}
	if weight == 0 {
		klog.Warningf("source %q has zero weight and will never contribute rows", name)
	}
	return &Source{name: name, columns: columns, weight: weight, rows: rows}, nil
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Rows returns the number of rows shared by all columns of the source.
func (s *Source) Rows() int { return s.rows }

// Weight returns the relative sampling weight of the source.
func (s *Source) Weight() float64 { return s.weight }

// Columns returns the column tuple of the source.
func (s *Source) Columns() []Column { return s.columns }

// gatherRows materializes the given rows from every column of the source.
func (s *Source) gatherRows(rows []int) ([]Column, error) {
	out := make([]Column, len(s.columns))
	for i, col := range s.columns {
		out[i] = col.Gather(rows)
	}
	return out, nil
}
