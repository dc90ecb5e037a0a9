package transfer

import (
	"sync"

	"github.com/opd-ai/mcuxfer/metrics"
)

// operationGuard allows one top-level operation per engine.
type operationGuard struct {
	mu      sync.Mutex
	ongoing bool
}

// acquire marks an operation as running. The returned release function must
// be deferred by the caller; it is safe to call more than once.
func (g *operationGuard) acquire() (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ongoing {
		return nil, ErrOperationInProgress
	}
	g.ongoing = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.ongoing = false
			g.mu.Unlock()
		})
	}, nil
}

func (g *operationGuard) isHeld() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ongoing
}

// acquireOperation takes the guard for a top-level operation and tracks it in
// the in-flight gauge when metrics are enabled.
func (e *Engine) acquireOperation() (release func(), err error) {
	release, err = e.guard.acquire()
	if err != nil || !e.recordMetrics {
		return release, err
	}
	metrics.OperationsInFlight.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			release()
			metrics.OperationsInFlight.Dec()
		})
	}, nil
}
