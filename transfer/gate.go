package transfer

import (
	"context"
	"sync"
)

// pauseGate is open by default. While closed, wait blocks.
type pauseGate struct {
	mu     sync.Mutex
	closed bool
	opened chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{opened: ch}
}

// close shuts the gate. It reports false if the gate was already closed.
func (g *pauseGate) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	g.opened = make(chan struct{})
	return true
}

// open releases every waiter. It reports false if the gate was already open.
func (g *pauseGate) open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		return false
	}
	g.closed = false
	close(g.opened)
	return true
}

func (g *pauseGate) isOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed
}

// wait blocks until the gate is open or ctx is done.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.opened
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
