package multibatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32ColumnGatherAndConcat(t *testing.T) {
	col, err := NewFloat32Column([]float32{0, 1, 10, 11, 20, 21}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, col.Rows())
	assert.Equal(t, 2, col.Width())
	assert.Equal(t, []float32{10, 11}, col.Row(1))

	picked := col.Gather([]int{2, 0}).(*Float32Column)
	assert.Equal(t, []float32{20, 21, 0, 1}, picked.Data())

	empty := col.Gather(nil).(*Float32Column)
	assert.Equal(t, 0, empty.Rows())
	assert.Equal(t, 2, empty.Width())

	joined, err := Concat([]Column{picked, empty, col})
	require.NoError(t, err)
	assert.Equal(t, 5, joined.Rows())
	assert.Equal(t, []float32{20, 21, 0, 1, 0, 1, 10, 11, 20, 21}, joined.(*Float32Column).Data())
}

func TestInt32ColumnGatherAndConcat(t *testing.T) {
	col, err := NewInt32Column([]int32{-1, 0, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, col.Rows())

	picked := col.Gather([]int{1, 1, 2}).(*Int32Column)
	assert.Equal(t, []int32{0, 0, 2}, picked.Data())

	joined, err := Concat([]Column{col, picked})
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 0, 2, 0, 0, 2}, joined.(*Int32Column).Data())
}

func TestColumnValidation(t *testing.T) {
	_, err := NewFloat32Column(make([]float32, 5), 2)
	assert.Error(t, err, "buffer not a multiple of width")

	_, err = NewInt32Column(nil, 0)
	assert.Error(t, err, "non-positive width")
}

func TestConcatRejectsMixedColumns(t *testing.T) {
	fc, err := NewFloat32Column([]float32{1, 2}, 1)
	require.NoError(t, err)
	ic, err := NewInt32Column([]int32{1, 2}, 1)
	require.NoError(t, err)
	narrow, err := NewFloat32Column([]float32{1, 2}, 2)
	require.NoError(t, err)

	_, err = Concat([]Column{fc, ic})
	assert.Error(t, err, "mixed value types")

	_, err = Concat([]Column{fc, narrow})
	assert.Error(t, err, "mixed widths")

	_, err = Concat(nil)
	assert.Error(t, err, "no parts")
}

func TestColumnTensorShape(t *testing.T) {
	col, err := NewFloat32Column([]float32{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	tensor := col.Tensor()
	require.NotNil(t, tensor)
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
}
