package trainer

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
)

// Config holds the training hyperparameters.
type Config struct {
	// LearningRate for the Adam optimizer.
	LearningRate float64

	// MaxEpochs bounds the training; the plateau scheduler usually stops
	// earlier.
	MaxEpochs int

	// StepsPerEpoch is the number of combined batches pulled from the
	// training set between validation rounds.
	StepsPerEpoch int

	// LRPatience, LRFactor and LRReductions configure learning rate dropping
	// on validation loss plateaus; StopPatience then ends the training.
	LRPatience   int
	LRFactor     float64
	LRReductions int
	StopPatience int

	// Seed initializes the model parameters deterministically.
	Seed int64
}

// EpochStats records one validation round.
type EpochStats struct {
	Epoch        int
	TrainLoss    float64
	ValidLoss    float64
	LearningRate float64
	Duration     time.Duration
}

// History is the per-epoch training record, consumed by the report package.
type History []EpochStats

// weightedCrossEntropy is the training loss: categorical cross entropy from
// logits, scaled per example by the event weights carried as the second label
// tensor. The loss reduces the per-example values itself, so the weights are
// handed to it as an extra labels tensor of shape [batchSize].
func weightedCrossEntropy(labels, predictions []*graph.Node) *graph.Node {
	if len(labels) > 1 {
		weights := graph.Reshape(labels[1], labels[1].Shape().Dimensions[0])
		return losses.CategoricalCrossEntropyLogits([]*graph.Node{labels[0], weights}, predictions)
	}
	return losses.CategoricalCrossEntropyLogits(labels, predictions)
}

// tryCatch converts the error-valued panics the gomlx step methods use to
// report failures into an ordinary returned error. Panics carrying anything
// other than an error propagate.
func tryCatch(fn func()) (err error) {
	defer func() {
		e := recover()
		if e == nil {
			return
		}
		var ok bool
		if err, ok = e.(error); !ok {
			panic(e)
		}
	}()
	fn()
	return
}

// setLearningRate writes lr into the optimizer's learning-rate variable. The
// optimizer only reads the context param when it first creates the variable,
// so plateau reductions must update the variable itself.
func setLearningRate(ctx *context.Context, lr float64) {
	optimizers.LearningRateVar(ctx, dtypes.Float32, lr).SetValue(tensors.FromAnyValue(float32(lr)))
}

// Train runs the training loop: StepsPerEpoch train steps per epoch on the
// endless training set, one full validation cycle after each, with learning
// rate dropping and early stopping on validation loss plateaus.
func Train(cfg Config, model *Model, trainDS, validDS train.Dataset) (History, error) {
	if cfg.MaxEpochs <= 0 || cfg.StepsPerEpoch <= 0 {
		return nil, errors.Errorf("invalid schedule: %d epochs x %d steps", cfg.MaxEpochs, cfg.StepsPerEpoch)
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}

	backend, err := simplego.New("")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create backend")
	}
	ctx := context.New()
	ctx.RngStateFromSeed(cfg.Seed)
	lr := cfg.LearningRate
	ctx.SetParam(optimizers.ParamLearningRate, lr)

	trainer := train.NewTrainer(backend, ctx, model.Forward, weightedCrossEntropy,
		optimizers.Adam().Done(), nil, nil)

	scheduler := newReduceLRAndStop(cfg.LRPatience, cfg.LRFactor, cfg.LRReductions, cfg.StopPatience)
	var history History
	for epoch := 1; epoch <= cfg.MaxEpochs; epoch++ {
		start := time.Now()

		trainLoss := 0.0
		for step := 0; step < cfg.StepsPerEpoch; step++ {
			spec, inputs, labels, err := trainDS.Yield()
			if err != nil {
				return history, errors.Wrap(err, "training dataset failed")
			}
			var metrics []*tensors.Tensor
			err = tryCatch(func() { metrics = trainer.TrainStep(spec, inputs, labels) })
			if err != nil {
				return history, errors.Wrapf(err, "train step %d of epoch %d", step, epoch)
			}
			trainLoss += metricValue(metrics[0])
		}
		trainLoss /= float64(cfg.StepsPerEpoch)

		validLoss, err := evaluate(trainer, validDS)
		if err != nil {
			return history, errors.Wrapf(err, "validation after epoch %d", epoch)
		}

		stats := EpochStats{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			ValidLoss:    validLoss,
			LearningRate: lr,
			Duration:     time.Since(start),
		}
		history = append(history, stats)
		klog.Infof("epoch %d: train loss %.5f, validation loss %.5f (lr %g, %s)",
			epoch, trainLoss, validLoss, lr, stats.Duration.Round(time.Millisecond))

		newLR, stop, _ := scheduler.observe(epoch, validLoss, lr)
		if stop {
			break
		}
		if newLR != lr {
			lr = newLR
			setLearningRate(ctx, lr)
		}
	}
	return history, nil
}

// evaluate runs one full validation cycle and returns the mean loss.
func evaluate(trainer *train.Trainer, validDS train.Dataset) (float64, error) {
	validDS.Reset()
	total, batches := 0.0, 0
	for {
		spec, inputs, labels, err := validDS.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "validation dataset failed")
		}
		var metrics []*tensors.Tensor
		err = tryCatch(func() { metrics = trainer.EvalStep(spec, inputs, labels) })
		if err != nil {
			return 0, errors.Wrap(err, "eval step")
		}
		total += metricValue(metrics[0])
		batches++
	}
	if batches == 0 {
		return 0, errors.New("validation dataset yielded no batches")
	}
	return total / float64(batches), nil
}

// metricValue extracts a scalar metric as float64.
func metricValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		klog.Warningf("unexpected metric type %T", v)
		return 0
	}
}
