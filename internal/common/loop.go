package common

import (
	"context"
	"sync"
	"time"
)

// StartLoopOnce starts a single goroutine loop once.
//
// It standardizes the common boilerplate across components:
// - loopOnce.Do(...)
// - context.WithCancel
// - optional ticker lifecycle
//
// tick:
// - if tick > 0, a ticker is created and its channel is passed to run
// - if tick <= 0, tickC is nil (never fires)
func StartLoopOnce(
	parent context.Context,
	once *sync.Once,
	setCancel func(context.CancelFunc),
	tick time.Duration,
	run func(loopCtx context.Context, tickC <-chan time.Time),
) {
	once.Do(func() {
		loopCtx, cancel := context.WithCancel(parent)
		if setCancel != nil {
			setCancel(cancel)
		}
		// cancel is owned by the caller via setCancel; loop shutdown is
		// driven externally, so there is nothing more to do with it here.
		_ = cancel
		go func() {
			var tickC <-chan time.Time
			if tick > 0 {
				ticker := time.NewTicker(tick)
				tickC = ticker.C
				defer ticker.Stop()
			}
			run(loopCtx, tickC)
		}()
	})
}
