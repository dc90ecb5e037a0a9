package simulated

import (
	"sync"
	"time"

	"github.com/opd-ai/mcuxfer/native"
)

// run is the playback state of one attempt.
type run struct {
	req     native.BeginRequest
	actions []Action

	mu       sync.Mutex
	state    native.State
	paused   bool
	resumed  chan struct{}
	halted   bool
	finished bool
	stop     chan struct{}
}

func newRun(req native.BeginRequest, actions []Action) *run {
	return &run{
		req:     req,
		actions: actions,
		state:   native.StateNone,
		stop:    make(chan struct{}),
	}
}

// halt stops playback and returns the state it was in.
func (r *run) halt() native.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.halted {
		r.halted = true
		close(r.stop)
	}
	return r.state
}

func (r *run) isHalted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

func (r *run) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
}

func (r *run) isFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished || r.halted
}

func (r *run) setState(s native.State) native.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.state
	r.state = s
	return prev
}

// pause suspends playback if it is running. It returns the state it left.
func (r *run) pause() (native.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused || r.halted || r.finished || r.state.IsTerminal() {
		return r.state, false
	}
	r.paused = true
	r.resumed = make(chan struct{})
	prev := r.state
	r.state = native.StatePaused
	return prev, true
}

func (r *run) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// resume continues playback and returns the state it moves to.
func (r *run) resume() native.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return r.state
	}
	r.paused = false
	r.state = native.StateInProgress
	close(r.resumed)
	return r.state
}

// waitWhilePaused blocks while paused. It reports false once halted.
func (r *run) waitWhilePaused() bool {
	r.mu.Lock()
	paused, resumed := r.paused, r.resumed
	r.mu.Unlock()

	if !paused {
		return !r.isHalted()
	}
	select {
	case <-resumed:
		return true
	case <-r.stop:
		return false
	}
}

func (r *run) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stop:
		return false
	}
}
