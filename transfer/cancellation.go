package transfer

import (
	"sync"
	"time"
)

// cancellationController tracks the two-phase cancel protocol of the current
// operation: request, then confirmation by the native layer or by the
// deathknell timer, whichever comes first.
type cancellationController struct {
	mu          sync.Mutex
	generation  uint64
	requested   bool
	reason      string
	requestedCh chan struct{}
	graceful    time.Duration
	deathknell  *time.Timer
	confirmed   bool
	// active is true between reset and settle.
	active bool

	// onConfirmed delivers the single Cancelled event of an operation.
	onConfirmed func(CancelledEvent)
	// onDeathknell is told when the engine had to force the confirmation.
	onDeathknell func(reason string)
}

func newCancellationController(onConfirmed func(CancelledEvent), onDeathknell func(string)) *cancellationController {
	return &cancellationController{
		requestedCh:  make(chan struct{}),
		onConfirmed:  onConfirmed,
		onDeathknell: onDeathknell,
	}
}

// reset starts a fresh cancellation context for a new operation.
func (c *cancellationController) reset(graceful time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.stopTimerLocked()
	c.requested = false
	c.reason = ""
	c.requestedCh = make(chan struct{})
	c.graceful = graceful
	c.confirmed = false
	c.active = true
}

// request records a cancel request. The first non-empty reason is kept.
func (c *cancellationController) request(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestLocked(reason)
}

func (c *cancellationController) requestLocked(reason string) {
	if c.reason == "" {
		c.reason = reason
	}
	if !c.requested {
		c.requested = true
		close(c.requestedCh)
	}
}

func (c *cancellationController) isRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

func (c *cancellationController) currentReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// done is closed once cancellation is requested for the current operation.
func (c *cancellationController) done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestedCh
}

// armDeathknell starts the graceful-cancellation timer of a requested
// cancellation. Only the first call per operation arms it. Calls without an
// outstanding request belong to an operation that already ended and are
// ignored.
func (c *cancellationController) armDeathknell(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active || !c.requested || c.confirmed || c.deathknell != nil {
		return
	}
	if c.reason == "" {
		c.reason = reason
	}

	gen := c.generation
	c.deathknell = time.AfterFunc(c.graceful, func() {
		c.fireDeathknell(gen)
	})
}

func (c *cancellationController) fireDeathknell(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.confirmed {
		c.mu.Unlock()
		return
	}
	c.confirmed = true
	reason := c.reason
	c.mu.Unlock()

	if c.onDeathknell != nil {
		c.onDeathknell(reason)
	}
	c.onConfirmed(CancelledEvent{Reason: reason, Forced: true})
}

// confirm handles a cancelled advertisement. Only the first confirmation of
// a requested cancellation produces an event; a confirmation arriving after
// its operation ended is dropped.
func (c *cancellationController) confirm(reason string) {
	c.mu.Lock()
	if !c.active || !c.requested || c.confirmed {
		c.mu.Unlock()
		return
	}
	c.confirmed = true
	c.stopTimerLocked()
	if reason == "" {
		reason = c.reason
	}
	c.mu.Unlock()

	c.onConfirmed(CancelledEvent{Reason: reason})
}

// settle ends the operation's cancellation context. A requested but
// unconfirmed cancellation is forced first, so every cancelled operation
// emits exactly one Cancelled event before it returns.
func (c *cancellationController) settle() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.active = false
	if !c.requested || c.confirmed {
		c.mu.Unlock()
		return
	}
	c.confirmed = true
	reason := c.reason
	c.mu.Unlock()

	if c.onDeathknell != nil {
		c.onDeathknell(reason)
	}
	c.onConfirmed(CancelledEvent{Reason: reason, Forced: true})
}

func (c *cancellationController) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

func (c *cancellationController) stopTimerLocked() {
	if c.deathknell != nil {
		c.deathknell.Stop()
	}
	c.deathknell = nil
}
