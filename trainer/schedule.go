package trainer

import "k8s.io/klog/v2"

// reduceLRAndStop tracks the monitored validation loss: after lrPatience
// epochs without improvement the learning rate is scaled by lrFactor, up to
// lrReductions times; once the reductions are spent, stopPatience epochs
// without improvement end the training.
type reduceLRAndStop struct {
	lrPatience   int
	lrFactor     float64
	lrReductions int
	stopPatience int

	best       float64
	hasBest    bool
	badEpochs  int
	reductions int
}

func newReduceLRAndStop(lrPatience int, lrFactor float64, lrReductions, stopPatience int) *reduceLRAndStop {
	return &reduceLRAndStop{
		lrPatience:   lrPatience,
		lrFactor:     lrFactor,
		lrReductions: lrReductions,
		stopPatience: stopPatience,
	}
}

// observe records one epoch's validation loss and returns the learning rate
// to use next (scaled or unchanged) and whether training should stop.
// improved reports whether this epoch set a new best.
func (s *reduceLRAndStop) observe(epoch int, valLoss, lr float64) (newLR float64, stop, improved bool) {
	if !s.hasBest || valLoss < s.best {
		s.best = valLoss
		s.hasBest = true
		s.badEpochs = 0
		return lr, false, true
	}

	s.badEpochs++
	if s.reductions < s.lrReductions {
		if s.badEpochs >= s.lrPatience {
			s.reductions++
			s.badEpochs = 0
			newLR = lr * s.lrFactor
			klog.Infof("epoch %d: no improvement for %d epochs, reducing learning rate to %g (%d/%d)",
				epoch, s.lrPatience, newLR, s.reductions, s.lrReductions)
			return newLR, false, false
		}
		return lr, false, false
	}
	if s.badEpochs >= s.stopPatience {
		klog.Infof("epoch %d: no improvement for %d epochs, stopping", epoch, s.stopPatience)
		return lr, true, false
	}
	return lr, false, false
}
