// Package events loads per-physics-process event samples from CSV files and
// prepares them as weighted sources for the multibatch engine: continuous and
// categorical input columns, one-hot class labels, per-event loss weights,
// fold-based train/validation splitting and class-balancing batch weights.
package events

// Sample describes one physical process contributing events to the training.
type Sample struct {
	// Name identifies the sample and its CSV file (<data dir>/<name>.csv).
	Name string

	// Label is the class index the sample belongs to.
	Label int

	// Spin of the signal hypothesis; -1 for backgrounds, which receive a
	// randomized spin per batch (see ParameterInjector).
	Spin int32

	// Mass of the signal hypothesis in GeV; -1 for backgrounds.
	Mass float32

	// LossWeight scales every event weight of the sample.
	LossWeight float64
}

// BatchWeights computes the relative batch weight per sample such that each
// class starts with equal representation in every combined batch: within a
// class each sample weighs 1/(number of samples in that class).
func BatchWeights(samples []Sample) []float64 {
	perClass := make(map[int]int)
	for _, s := range samples {
		perClass[s.Label]++
	}
	weights := make([]float64, len(samples))
	for i, s := range samples {
		weights[i] = 1 / float64(perClass[s.Label])
	}
	return weights
}

// ClassCount returns the number of distinct class labels.
func ClassCount(samples []Sample) int {
	seen := make(map[int]bool)
	for _, s := range samples {
		seen[s.Label] = true
	}
	return len(seen)
}
