package events

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/hepnet/evclass/multibatch"
)

// ParameterInjector returns a batch transform that replaces the sentinel (-1)
// mass and spin values of background rows with hypotheses drawn uniformly
// from the signal grids, so backgrounds are spread evenly over the
// parameterized phase space. The mass lives in the last continuous column and
// the spin in the last categorical column, as laid out by Build.
//
// Pass a nil grid to skip the corresponding injection.
func ParameterInjector(masses []float32, spins []int32, seed int64) multibatch.Transform {
	rng := rand.New(rand.NewSource(seed))
	return func(training bool, columns []multibatch.Column) ([]multibatch.Column, error) {
		if len(columns) < 2 {
			return nil, errors.Errorf("parameter injection needs (continuous, categorical, ...) columns, got %d", len(columns))
		}
		out := make([]multibatch.Column, len(columns))
		copy(out, columns)

		if len(masses) > 0 {
			cont, ok := columns[0].(*multibatch.Float32Column)
			if !ok {
				return nil, errors.Errorf("column 0 is %T, want *multibatch.Float32Column", columns[0])
			}
			data := make([]float32, len(cont.Data()))
			copy(data, cont.Data())
			width := cont.Width()
			for r := 0; r < cont.Rows(); r++ {
				if data[r*width+width-1] < 0 {
					data[r*width+width-1] = masses[rng.Intn(len(masses))]
				}
			}
			col, err := multibatch.NewFloat32Column(data, width)
			if err != nil {
				return nil, err
			}
			out[0] = col
		}

		if len(spins) > 0 {
			cat, ok := columns[1].(*multibatch.Int32Column)
			if !ok {
				return nil, errors.Errorf("column 1 is %T, want *multibatch.Int32Column", columns[1])
			}
			data := make([]int32, len(cat.Data()))
			copy(data, cat.Data())
			width := cat.Width()
			for r := 0; r < cat.Rows(); r++ {
				if data[r*width+width-1] < 0 {
					data[r*width+width-1] = spins[rng.Intn(len(spins))]
				}
			}
			col, err := multibatch.NewInt32Column(data, width)
			if err != nil {
				return nil, err
			}
			out[1] = col
		}

		return out, nil
	}
}
