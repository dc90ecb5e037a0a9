package transfer

import (
	"sync"

	"github.com/opd-ai/mcuxfer/native"
)

// expectedSources lists, for the states the engine derives events from, the
// states a well-behaved native layer transitions from. Anything else is
// propagated but reported as suspicious.
var expectedSources = map[native.State][]native.State{
	native.StateInProgress: {native.StateIdle, native.StateResuming},
	native.StateComplete:   {native.StateInProgress},
}

// stateTracker holds the authoritative current state of every resource the
// engine has seen.
type stateTracker struct {
	mu      sync.Mutex
	current map[string]native.State
}

func newStateTracker() *stateTracker {
	return &stateTracker{current: make(map[string]native.State)}
}

// record stores newState for resource and reports whether the transition
// from oldState was unexpected.
func (t *stateTracker) record(resource string, oldState, newState native.State) (suspicious bool) {
	t.mu.Lock()
	t.current[resource] = newState
	t.mu.Unlock()

	sources, checked := expectedSources[newState]
	if !checked {
		return false
	}
	for _, s := range sources {
		if s == oldState {
			return false
		}
	}
	return true
}

func (t *stateTracker) get(resource string) native.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current[resource]
}
