package connparams

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidDevice indicates a device identity with a blank half.
	ErrInvalidDevice = errors.New("invalid device identity")

	// ErrInvalidParameter indicates a connection parameter out of range.
	ErrInvalidParameter = errors.New("invalid connection parameter")
)

// Instability thresholds. From the second attempt on, the failsafe set is
// used on the last attempt, or from the third attempt once at least
// MinSuspiciousFailures earlier attempts died before making real progress.
const (
	MinAttemptForFailsafe      = 2
	MinAttemptForEarlyFailsafe = 3
	MinSuspiciousFailures      = 2
)

// Selector decides which connection parameters an attempt should run with.
// It is safe for concurrent use.
type Selector struct {
	mu          sync.RWMutex
	failsafe    Set
	problematic map[deviceKey]Device
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithFailsafe replaces the built-in failsafe set. Knobs left nil in s keep
// their built-in failsafe value.
func WithFailsafe(s Set) SelectorOption {
	return func(sel *Selector) {
		sel.failsafe = Merge(Failsafe(), s)
	}
}

// WithProblematicDevices pre-registers devices known to need the failsafe set.
func WithProblematicDevices(devices ...Device) SelectorOption {
	return func(sel *Selector) {
		for _, d := range devices {
			sel.problematic[d.key()] = d
		}
	}
}

// NewSelector builds a selector with the built-in failsafe set and an empty registry.
func NewSelector(opts ...SelectorOption) *Selector {
	sel := &Selector{
		failsafe:    Failsafe(),
		problematic: make(map[deviceKey]Device),
	}
	for _, opt := range opts {
		opt(sel)
	}
	return sel
}

// Failsafe returns a copy of the selector's failsafe set.
func (s *Selector) Failsafe() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failsafe.Clone()
}

// Register marks a device as problematic. Matching ignores case and
// surrounding whitespace.
func (s *Selector) Register(d Device) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.problematic[d.key()] = d
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Selector.Register",
		"device":   d.String(),
	}).Info("Registered problematic host device")
	return nil
}

// Unregister removes a device from the registry. It reports whether the
// device was registered.
func (s *Selector) Unregister(d Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := d.key()
	if _, ok := s.problematic[k]; !ok {
		return false
	}
	delete(s.problematic, k)
	return true
}

// IsProblematic reports whether d is in the registry.
func (s *Selector) IsProblematic(d Device) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.problematic[d.key()]
	return ok
}

// ForDevice returns the failsafe set when d is a registered problematic
// device and requested is untuned. Explicitly tuned parameters are never
// overridden.
func (s *Selector) ForDevice(d Device, requested Set) (Set, bool) {
	if !requested.IsUntuned() || !s.IsProblematic(d) {
		return Set{}, false
	}
	return Merge(requested, s.Failsafe()), true
}

// ForInstability returns the failsafe set when the attempt history points at
// an unstable link. The first attempt never qualifies; the last attempt of a
// multi-attempt run always does.
func (s *Selector) ForInstability(attempt, maxTries, suspiciousFailures int) (Set, bool) {
	if !LinkLooksUnstable(attempt, maxTries, suspiciousFailures) {
		return Set{}, false
	}
	return s.Failsafe(), true
}

// LinkLooksUnstable is the instability rule on its own.
func LinkLooksUnstable(attempt, maxTries, suspiciousFailures int) bool {
	if attempt < MinAttemptForFailsafe {
		return false
	}
	if attempt == maxTries {
		return true
	}
	return attempt >= MinAttemptForEarlyFailsafe && suspiciousFailures >= MinSuspiciousFailures
}
