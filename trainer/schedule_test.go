package trainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduleReducesThenStops(t *testing.T) {
	s := newReduceLRAndStop(2, 0.5, 1, 3)
	lr := 1.0

	// First observation always sets a best.
	lr, stop, improved := s.observe(1, 0.5, lr)
	assert.True(t, improved)
	assert.False(t, stop)
	assert.Equal(t, 1.0, lr)

	// Two non-improving epochs trigger the (single) reduction.
	lr, stop, _ = s.observe(2, 0.6, lr)
	assert.False(t, stop)
	assert.Equal(t, 1.0, lr)
	lr, stop, _ = s.observe(3, 0.6, lr)
	assert.False(t, stop)
	assert.Equal(t, 0.5, lr)

	// Reductions spent: three more bad epochs stop the training.
	lr, stop, _ = s.observe(4, 0.6, lr)
	assert.False(t, stop)
	lr, stop, _ = s.observe(5, 0.6, lr)
	assert.False(t, stop)
	_, stop, _ = s.observe(6, 0.6, lr)
	assert.True(t, stop)
}

func TestScheduleImprovementResetsPatience(t *testing.T) {
	s := newReduceLRAndStop(2, 0.5, 1, 2)
	lr := 1.0

	lr, _, _ = s.observe(1, 0.5, lr)
	lr, _, _ = s.observe(2, 0.6, lr)

	// Improvement resets the bad-epoch counter and keeps the rate.
	lr, stop, improved := s.observe(3, 0.4, lr)
	assert.True(t, improved)
	assert.False(t, stop)
	assert.Equal(t, 1.0, lr)

	lr, stop, _ = s.observe(4, 0.5, lr)
	assert.False(t, stop)
	assert.Equal(t, 1.0, lr)
	_, stop, _ = s.observe(5, 0.5, lr)
	assert.False(t, stop)
}

func TestModelConfigValidation(t *testing.T) {
	good := ModelConfig{
		ContWidth:   3,
		CatWidth:    2,
		NumClasses:  2,
		HiddenUnits: []int{16, 16},
		ContMeans:   []float32{0, 0, 0},
		ContVars:    []float32{1, 1, 1},
	}
	_, err := NewModel(good)
	assert.NoError(t, err)

	bad := good
	bad.HiddenUnits = nil
	_, err = NewModel(bad)
	assert.Error(t, err)

	bad = good
	bad.ContMeans = []float32{0}
	_, err = NewModel(bad)
	assert.Error(t, err)

	bad = good
	bad.NumClasses = 1
	_, err = NewModel(bad)
	assert.Error(t, err)
}

func TestTrainConfigValidation(t *testing.T) {
	_, err := Train(Config{MaxEpochs: 0, StepsPerEpoch: 10, LearningRate: 1e-3}, nil, nil, nil)
	assert.Error(t, err)

	_, err = Train(Config{MaxEpochs: 5, StepsPerEpoch: 10, LearningRate: 0}, nil, nil, nil)
	assert.Error(t, err)
}
