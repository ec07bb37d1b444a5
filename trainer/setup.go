// Package trainer builds and trains the multi-class event classifier with
// gomlx, consuming combined batches from the multibatch engine.
package trainer

import (
	"runtime"
	"sync"

	"k8s.io/klog/v2"
)

var setupOnce sync.Once

// Setup applies process-wide execution settings. It must be called once by
// the surrounding application before training; it is deliberately not an
// import-time side effect.
func Setup(maxThreads int) {
	setupOnce.Do(func() {
		if maxThreads > 0 {
			old := runtime.GOMAXPROCS(maxThreads)
			klog.V(1).Infof("limited to %d threads (was %d)", maxThreads, old)
		}
	})
}
