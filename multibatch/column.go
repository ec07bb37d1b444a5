package multibatch

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Column is one parallel array of a source: a fixed number of values per row
// stored in a flat, row-major buffer. All columns of a source share the same
// row count; column positions are aligned across sources so that sub-batches
// can be concatenated position by position.
//
// Values are stored in flat contiguous buffers along with shape metadata.
// These are trivial to convert into gomlx tensors (see Tensor) or any other
// tensor type in training code.
type Column interface {
	// Rows returns the number of rows held by the column.
	Rows() int

	// Width returns the number of values per row.
	Width() int

	// Gather returns a new column holding the given rows, in order. Row
	// indices must be valid; an empty index list yields an empty column.
	Gather(rows []int) Column

	// Tensor converts the column into a gomlx tensor of shape [rows, width].
	Tensor() *tensors.Tensor
}

// Float32Column holds continuous values (features, one-hot labels, event
// weights) as float32 rows.
type Float32Column struct {
	data  []float32
	width int
}

// NewFloat32Column wraps a flat row-major buffer as a column. The buffer is
// not copied; the engine treats it as read-only.
func NewFloat32Column(data []float32, width int) (*Float32Column, error) {
	if width <= 0 {
		return nil, errors.Errorf("column width must be positive, got %d", width)
	}
	if len(data)%width != 0 {
		return nil, errors.Errorf("flat buffer length %d is not a multiple of width %d", len(data), width)
	}
	return &Float32Column{data: data, width: width}, nil
}

// Rows returns the number of rows held by the column.
func (c *Float32Column) Rows() int { return len(c.data) / c.width }

// Width returns the number of values per row.
func (c *Float32Column) Width() int { return c.width }

// Row returns a view of the i-th row. The returned slice aliases the
// underlying buffer and must not be modified.
func (c *Float32Column) Row(i int) []float32 {
	return c.data[i*c.width : (i+1)*c.width]
}

// Data returns the flat row-major buffer backing the column.
func (c *Float32Column) Data() []float32 { return c.data }

// Gather returns a new column holding the given rows, in order.
func (c *Float32Column) Gather(rows []int) Column {
	out := make([]float32, 0, len(rows)*c.width)
	for _, r := range rows {
		out = append(out, c.Row(r)...)
	}
	return &Float32Column{data: out, width: c.width}
}

// Tensor converts the column into a gomlx tensor of shape [rows, width].
func (c *Float32Column) Tensor() *tensors.Tensor {
	rows := make([][]float32, c.Rows())
	for i := range rows {
		rows[i] = c.Row(i)
	}
	return tensors.FromAnyValue(rows)
}

// Int32Column holds categorical values (encoded discrete features such as
// decay channel, charge or spin) as int32 rows.
type Int32Column struct {
	data  []int32
	width int
}

// NewInt32Column wraps a flat row-major buffer as a column. The buffer is not
// copied; the engine treats it as read-only.
func NewInt32Column(data []int32, width int) (*Int32Column, error) {
	if width <= 0 {
		return nil, errors.Errorf("column width must be positive, got %d", width)
	}
	if len(data)%width != 0 {
		return nil, errors.Errorf("flat buffer length %d is not a multiple of width %d", len(data), width)
	}
	return &Int32Column{data: data, width: width}, nil
}

// Rows returns the number of rows held by the column.
func (c *Int32Column) Rows() int { return len(c.data) / c.width }

// Width returns the number of values per row.
func (c *Int32Column) Width() int { return c.width }

// Row returns a view of the i-th row. The returned slice aliases the
// underlying buffer and must not be modified.
func (c *Int32Column) Row(i int) []int32 {
	return c.data[i*c.width : (i+1)*c.width]
}

// Data returns the flat row-major buffer backing the column.
func (c *Int32Column) Data() []int32 { return c.data }

// Gather returns a new column holding the given rows, in order.
func (c *Int32Column) Gather(rows []int) Column {
	out := make([]int32, 0, len(rows)*c.width)
	for _, r := range rows {
		out = append(out, c.Row(r)...)
	}
	return &Int32Column{data: out, width: c.width}
}

// Tensor converts the column into a gomlx tensor of shape [rows, width].
func (c *Int32Column) Tensor() *tensors.Tensor {
	rows := make([][]int32, c.Rows())
	for i := range rows {
		rows[i] = c.Row(i)
	}
	return tensors.FromAnyValue(rows)
}

// Concat concatenates columns along the row axis, in order. All parts must
// share the same value type and width.
func Concat(parts []Column) (Column, error) {
	if len(parts) == 0 {
		return nil, errors.New("cannot concatenate zero columns")
	}
	switch first := parts[0].(type) {
	case *Float32Column:
		total := 0
		for i, p := range parts {
			c, ok := p.(*Float32Column)
			if !ok {
				return nil, errors.Errorf("column %d is %T, want *Float32Column", i, p)
			}
			if c.width != first.width {
				return nil, errors.Errorf("column %d has width %d, want %d", i, c.width, first.width)
			}
			total += len(c.data)
		}
		out := make([]float32, 0, total)
		for _, p := range parts {
			out = append(out, p.(*Float32Column).data...)
		}
		return &Float32Column{data: out, width: first.width}, nil
	case *Int32Column:
		total := 0
		for i, p := range parts {
			c, ok := p.(*Int32Column)
			if !ok {
				return nil, errors.Errorf("column %d is %T, want *Int32Column", i, p)
			}
			if c.width != first.width {
				return nil, errors.Errorf("column %d has width %d, want %d", i, c.width, first.width)
			}
			total += len(c.data)
		}
		out := make([]int32, 0, total)
		for _, p := range parts {
			out = append(out, p.(*Int32Column).data...)
		}
		return &Int32Column{data: out, width: first.width}, nil
	default:
		return nil, errors.Errorf("unsupported column type %T", parts[0])
	}
}
