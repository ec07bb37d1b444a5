package multibatch

import (
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Allocate splits a target batch size into one integer sub-batch size per
// source, proportional to the given relative weights, such that the sizes sum
// exactly to the target.
//
// It uses a deterministic running-carry (largest-remainder) scheme: weights
// are normalized to fractions of their sum and sources are processed in input
// order with a fractional carry, so the cumulative rounding error never
// exceeds one unit. Rounding is half away from zero (math.Round).
//
// Degenerate configurations are advisories, not errors: a source whose weight
// share is below one unit at the given batch size is allocated zero rows, and
// a final sum that disagrees with the target (possible only from the very
// last source's own rounding, with no further source to absorb the carry) is
// logged with the discrepancy.
func Allocate(weights []float64, total int) ([]int, error) {
	if len(weights) == 0 {
		return nil, errors.New("no weights given")
	}
	if total <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", total)
	}
	sum := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, errors.Errorf("weight %d is invalid: %v", i, w)
		}
		sum += w
	}
	if sum == 0 {
		return nil, errors.New("all weights are zero")
	}

	sizes := make([]int, len(weights))
	carry := 0.0
	for i, w := range weights {
		ideal := w/sum*float64(total) - carry
		n := int(math.Round(ideal))
		if n < 0 {
			// A large carry can push a zero-weight source below zero.
			n = 0
		}
		carry = float64(n) - ideal
		sizes[i] = n
	}

	got := 0
	for i, n := range sizes {
		if n == 0 {
			klog.Warningf("source %d (weight %v) is allocated zero rows per batch", i, weights[i])
		}
		got += n
	}
	if got != total {
		klog.Warningf("allocated batch size is %d but should be %d", got, total)
	}
	return sizes, nil
}
