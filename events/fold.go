package events

import (
	"math/rand"

	"github.com/pkg/errors"
)

// FoldSplit partitions events into train and validation sets by the last
// digit of their event number. Events in the held-out fold are not used at
// all (they are reserved for unbiased evaluation of the trained model); of
// the remaining nine folds, a configurable number is drawn for validation.
type FoldSplit struct {
	// HeldOutFold in [0, 9] is excluded entirely.
	HeldOutFold int

	// ValidationFolds in [1, 8] is the number of folds used for validation.
	ValidationFolds int

	// Seed drives the validation fold draw. The same seed always selects the
	// same folds.
	Seed int64
}

// folds computes the train and validation fold digits.
func (f FoldSplit) folds() (train, valid []int, err error) {
	if f.HeldOutFold < 0 || f.HeldOutFold > 9 {
		return nil, nil, errors.Errorf("held-out fold must be in [0, 9], got %d", f.HeldOutFold)
	}
	if f.ValidationFolds < 1 || f.ValidationFolds > 8 {
		return nil, nil, errors.Errorf("validation folds must be in [1, 8], got %d", f.ValidationFolds)
	}
	for i := 0; i < 10; i++ {
		if i != f.HeldOutFold {
			train = append(train, i)
		}
	}
	rng := rand.New(rand.NewSource(f.Seed))
	for len(valid) < f.ValidationFolds {
		i := rng.Intn(len(train))
		valid = append(valid, train[i])
		train = append(train[:i], train[i+1:]...)
	}
	return train, valid, nil
}

// Masks returns, for each event, whether it belongs to the training or the
// validation set. Events in the held-out fold belong to neither.
func (f FoldSplit) Masks(eventNumbers []int64) (train, valid []bool, err error) {
	trainFolds, validFolds, err := f.folds()
	if err != nil {
		return nil, nil, err
	}
	inTrain := make(map[int64]bool, len(trainFolds))
	for _, d := range trainFolds {
		inTrain[int64(d)] = true
	}
	inValid := make(map[int64]bool, len(validFolds))
	for _, d := range validFolds {
		inValid[int64(d)] = true
	}

	train = make([]bool, len(eventNumbers))
	valid = make([]bool, len(eventNumbers))
	for i, e := range eventNumbers {
		digit := e % 10
		if digit < 0 {
			digit += 10
		}
		train[i] = inTrain[digit]
		valid[i] = inValid[digit]
	}
	return train, valid, nil
}
