// Package multibatch combines independently-sized data sources into training
// batches with controlled, non-uniform relative representation.
//
// Each source is a set of same-length parallel columns plus a relative
// weight. At construction the target batch size is split into one integer
// sub-batch size per source (see Allocate); during iteration every source
// contributes exactly its sub-batch of rows to every combined batch, with
// sources shuffled and recycled independently in training mode, or traversed
// exactly once in validation mode.
//
// A MultiBatcher implements the gomlx train.Dataset interface, so it can be
// fed directly to a gomlx training loop.
package multibatch

import (
	"io"
	"math"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// ErrTransientRead marks a per-source read failure as recoverable. Gather
// functions backed by external storage wrap their transient faults with this
// sentinel; the engine then discards the combined-batch attempt and retries.
var ErrTransientRead = errors.New("transient read failure")

// Transform is applied to every combined batch after concatenation, e.g. to
// inject randomized auxiliary fields. It receives the concatenated column
// tuple and must return a tuple of identical shape. Failures are fatal and
// propagate to the consumer.
type Transform func(training bool, columns []Column) ([]Column, error)

// GatherFunc materializes the given rows from a source. The default gathers
// from the in-memory columns and never fails; callers with externally-backed
// sources can override it and report transient faults via ErrTransientRead.
type GatherFunc func(sourceIndex int, src *Source, rows []int) ([]Column, error)

// Batch is one combined batch: the concatenation, in source order, of every
// source's sub-batch for one training or validation step.
type Batch struct {
	Columns []Column
}

// Rows returns the first dimension of the batch.
func (b *Batch) Rows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Rows()
}

// defaultMaxAttempts bounds the retry loop around one combined-batch pull.
const defaultMaxAttempts = 5

// MultiBatcher produces combined batches from weighted sources. In training
// mode the sequence is unbounded; in validation mode it is bounded by
// BatchesPerCycle. It is not safe for concurrent use.
type MultiBatcher struct {
	name      string
	sources   []*Source
	sizes     []int
	batchSize int
	tupleLen  int

	mode           Mode
	yieldRemainder bool
	seed           int64
	seedSet        bool
	transform      Transform
	gather         GatherFunc
	isTransient    func(error) bool
	maxAttempts    int
	inputCols      int

	cycles  int
	cursors []*cursor
	batches int
}

// Option configures a MultiBatcher.
type Option func(*MultiBatcher)

// WithName sets the dataset name reported to the training loop.
func WithName(name string) Option {
	return func(mb *MultiBatcher) { mb.name = name }
}

// WithMode selects training (default) or validation iteration.
func WithMode(mode Mode) Option {
	return func(mb *MultiBatcher) { mb.mode = mode }
}

// WithSeed fixes the global shuffling seed. Per-source generators are seeded
// with the global seed plus the source index, so identical inputs and seed
// reproduce identical batch sequences. Without it a time-based seed is used.
func WithSeed(seed int64) Option {
	return func(mb *MultiBatcher) { mb.seed = seed; mb.seedSet = true }
}

// WithYieldRemainder enables the validation-mode tail policy of emitting a
// short final sub-batch for an exhausted source instead of ending the whole
// sequence. Ignored in training mode.
func WithYieldRemainder() Option {
	return func(mb *MultiBatcher) { mb.yieldRemainder = true }
}

// WithTransform applies fn to every combined batch after concatenation.
func WithTransform(fn Transform) Option {
	return func(mb *MultiBatcher) { mb.transform = fn }
}

// WithGatherFunc overrides how rows are materialized from sources.
func WithGatherFunc(fn GatherFunc) Option {
	return func(mb *MultiBatcher) { mb.gather = fn }
}

// WithTransientClassifier overrides the predicate deciding whether a gather
// error is recoverable. The default accepts errors wrapping ErrTransientRead.
func WithTransientClassifier(fn func(error) bool) Option {
	return func(mb *MultiBatcher) { mb.isTransient = fn }
}

// WithMaxAttempts bounds how often one combined-batch pull is retried after
// transient read failures before giving up.
func WithMaxAttempts(n int) Option {
	return func(mb *MultiBatcher) { mb.maxAttempts = n }
}

// WithInputColumns declares that the first n column positions are model
// inputs and the remaining ones labels (and weights) when yielding tensors.
// The default treats all but the last column as inputs.
func WithInputColumns(n int) Option {
	return func(mb *MultiBatcher) { mb.inputCols = n }
}

// New builds a MultiBatcher over the given sources. Zero sources, an invalid
// batch size, mismatched column tuples across sources, or all-zero weights
// are fatal; a batch-plan sum that cannot match the batch size exactly is an
// advisory only (see Allocate).
func New(sources []*Source, batchSize int, opts ...Option) (*MultiBatcher, error) {
	if len(sources) == 0 {
		return nil, errors.New("no sources given")
	}
	mb := &MultiBatcher{
		name:        "MultiBatcher",
		sources:     sources,
		batchSize:   batchSize,
		tupleLen:    len(sources[0].Columns()),
		mode:        Training,
		maxAttempts: defaultMaxAttempts,
		inputCols:   -1,
	}
	for _, opt := range opts {
		opt(mb)
	}
	if mb.inputCols < 0 {
		mb.inputCols = mb.tupleLen - 1
	}
	if mb.inputCols > mb.tupleLen {
		return nil, errors.Errorf("input column count %d exceeds tuple length %d", mb.inputCols, mb.tupleLen)
	}
	if mb.gather == nil {
		mb.gather = func(_ int, src *Source, rows []int) ([]Column, error) {
			return src.gatherRows(rows)
		}
	}
	if mb.isTransient == nil {
		mb.isTransient = func(err error) bool { return errors.Is(err, ErrTransientRead) }
	}
	if !mb.seedSet {
		mb.seed = time.Now().UnixNano()
	}

	// Column tuples must align across sources so sub-batches concatenate.
	for i, src := range sources {
		cols := src.Columns()
		if len(cols) != mb.tupleLen {
			return nil, errors.Errorf("source %q has %d columns, want %d", src.Name(), len(cols), mb.tupleLen)
		}
		if i == 0 {
			continue
		}
		ref := sources[0].Columns()
		for c, col := range cols {
			if reflect.TypeOf(col) != reflect.TypeOf(ref[c]) {
				return nil, errors.Errorf("source %q column %d is %T, want %T", src.Name(), c, col, ref[c])
			}
			if col.Width() != ref[c].Width() {
				return nil, errors.Errorf("source %q column %d has width %d, want %d",
					src.Name(), c, col.Width(), ref[c].Width())
			}
		}
	}

	weights := make([]float64, len(sources))
	for i, src := range sources {
		weights[i] = src.Weight()
	}
	sizes, err := Allocate(weights, batchSize)
	if err != nil {
		return nil, err
	}
	mb.sizes = sizes

	// Number of combined batches for the largest source (relative to its
	// sub-batch size) to complete one full pass. Zero-size sources never
	// contribute and do not bound the cycle.
	for i, src := range sources {
		if sizes[i] == 0 {
			continue
		}
		if n := int(math.Ceil(float64(src.Rows()) / float64(sizes[i]))); n > mb.cycles {
			mb.cycles = n
		}
	}

	mb.Reset()
	return mb, nil
}

// BatchSizes returns the batch plan: one sub-batch size per source, summing
// to the requested batch size in all but degenerate configurations.
func (mb *MultiBatcher) BatchSizes() []int {
	out := make([]int, len(mb.sizes))
	copy(out, mb.sizes)
	return out
}

// TotalRows returns the total underlying row count across all sources.
func (mb *MultiBatcher) TotalRows() int {
	total := 0
	for _, src := range mb.sources {
		total += src.Rows()
	}
	return total
}

// BatchesPerCycle returns how many combined batches constitute one full pass
// of the largest source. In validation mode this bounds the sequence.
func (mb *MultiBatcher) BatchesPerCycle() int { return mb.cycles }

// NumSources returns the number of sources.
func (mb *MultiBatcher) NumSources() int { return len(mb.sources) }

// Reset creates fresh cursor state for a new iteration epoch and zeroes the
// cycle counter. It implements train.Dataset.
func (mb *MultiBatcher) Reset() {
	mb.cursors = make([]*cursor, len(mb.sources))
	for i, src := range mb.sources {
		mb.cursors[i] = newCursor(src.Rows(), mb.mode, mb.yieldRemainder, mb.seed+int64(i))
	}
	mb.batches = 0
}

// Next produces one combined batch, or io.EOF when the validation cycle has
// completed (or a source without yield-remainder exhausted early). Transient
// per-source read failures discard the whole attempt, which is retried from
// scratch with fresh pulls from every source; transform failures and
// non-transient read failures are fatal.
func (mb *MultiBatcher) Next() (*Batch, error) {
	if mb.mode == Validation && mb.batches >= mb.cycles {
		return nil, io.EOF
	}
	for attempt := 1; ; attempt++ {
		columns, stop, err := mb.assemble()
		if err != nil {
			if !mb.isTransient(err) {
				return nil, err
			}
			if attempt >= mb.maxAttempts {
				return nil, errors.Wrapf(err, "giving up after %d attempts", attempt)
			}
			klog.Warningf("transient read failure (attempt %d/%d), retrying batch: %v", attempt, mb.maxAttempts, err)
			continue
		}
		if stop {
			return nil, io.EOF
		}
		if mb.transform != nil {
			columns, err = mb.applyTransform(columns)
			if err != nil {
				return nil, err
			}
		}
		mb.batches++
		return &Batch{Columns: columns}, nil
	}
}

// assemble pulls the next sub-batch from every source and concatenates the
// gathered sub-arrays per column position, in source order. stop reports that
// a validation source exhausted without a remainder policy.
func (mb *MultiBatcher) assemble() (columns []Column, stop bool, err error) {
	parts := make([][]Column, len(mb.sources))
	for i, src := range mb.sources {
		rows, ok := mb.cursors[i].next(mb.sizes[i])
		if !ok {
			return nil, true, nil
		}
		cols, err := mb.gather(i, src, rows)
		if err != nil {
			return nil, false, errors.Wrapf(err, "reading from source %d (%s)", i, src.Name())
		}
		parts[i] = cols
	}

	columns = make([]Column, mb.tupleLen)
	for c := range mb.tupleLen {
		per := make([]Column, len(parts))
		for s := range parts {
			per[s] = parts[s][c]
		}
		col, err := Concat(per)
		if err != nil {
			return nil, false, errors.Wrapf(err, "concatenating column %d", c)
		}
		columns[c] = col
	}
	return columns, false, nil
}

// applyTransform runs the user transform and enforces its shape contract.
func (mb *MultiBatcher) applyTransform(columns []Column) ([]Column, error) {
	rows := columns[0].Rows()
	out, err := mb.transform(mb.mode == Training, columns)
	if err != nil {
		return nil, errors.Wrap(err, "batch transform failed")
	}
	if len(out) != len(columns) {
		return nil, errors.Errorf("batch transform returned %d columns, want %d", len(out), len(columns))
	}
	for i, col := range out {
		if col.Rows() != rows {
			return nil, errors.Errorf("batch transform changed column %d row count from %d to %d", i, rows, col.Rows())
		}
	}
	return out, nil
}

// Name implements train.Dataset.
func (mb *MultiBatcher) Name() string { return mb.name }

// Yield implements train.Dataset: it produces the next combined batch as
// gomlx tensors, split into inputs and labels per WithInputColumns. Training
// mode never returns io.EOF; validation mode does once the cycle completes.
func (mb *MultiBatcher) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := mb.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	for i, col := range batch.Columns {
		if i < mb.inputCols {
			inputs = append(inputs, col.Tensor())
		} else {
			labels = append(labels, col.Tensor())
		}
	}
	return nil, inputs, labels, nil
}
