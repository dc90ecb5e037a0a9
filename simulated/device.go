package simulated

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/mcuxfer/native"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// ErrDeviceClosed is returned by BeginOperation after Close.
var ErrDeviceClosed = errors.New("simulated device closed")

// CancelMode selects how the device answers TryCancel.
type CancelMode uint8

const (
	// CancelConfirm advertises cancelling, then cancelled.
	CancelConfirm CancelMode = iota
	// CancelAcknowledgeOnly advertises cancelling and nothing else, unless a
	// late confirmation is configured.
	CancelAcknowledgeOnly
	// CancelIgnore refuses cancel requests.
	CancelIgnore
)

// Device is a scripted in-memory native layer.
type Device struct {
	mu               sync.Mutex
	callbacks        native.ICallbacks
	script           Script
	cancelMode       CancelMode
	lateConfirmation time.Duration
	stepDelay        time.Duration
	verdict          native.Verdict
	beginErr         error
	files            map[string][]byte
	requests         []native.BeginRequest
	calls            map[string]int
	current          *run
	lastFatal        string
	closed           bool
	wg               sync.WaitGroup
}

// Option configures a Device.
type Option func(*Device)

// WithScript sets the script played by every attempt. Defaults to Succeed(3).
func WithScript(s Script) Option {
	return func(d *Device) {
		if s != nil {
			d.script = s
		}
	}
}

// WithCancelMode sets how TryCancel is answered.
func WithCancelMode(m CancelMode) Option {
	return func(d *Device) {
		d.cancelMode = m
	}
}

// WithLateConfirmation makes CancelAcknowledgeOnly confirm after delay.
func WithLateConfirmation(delay time.Duration) Option {
	return func(d *Device) {
		d.lateConfirmation = delay
	}
}

// WithStepDelay inserts a delay before every scripted action.
func WithStepDelay(delay time.Duration) Option {
	return func(d *Device) {
		d.stepDelay = delay
	}
}

// WithVerdict forces the verdict of every BeginOperation.
func WithVerdict(v native.Verdict) Option {
	return func(d *Device) {
		d.verdict = v
	}
}

// WithBeginError makes every BeginOperation fail with err.
func WithBeginError(err error) Option {
	return func(d *Device) {
		d.beginErr = err
	}
}

// WithFile stores a file on the device.
func WithFile(path string, data []byte) Option {
	return func(d *Device) {
		d.files[fileKey(path)] = append([]byte(nil), data...)
	}
}

// NewDevice creates a simulated device.
func NewDevice(opts ...Option) *Device {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")

	d := &Device{
		script: Succeed(3),
		files:  make(map[string][]byte),
		calls:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewDevice",
		"cancel_mode": d.cancelMode,
		"files":       len(d.files),
		"step_delay":  d.stepDelay,
	}).Info("Creating simulated device")
	return d
}

// Bind implements native.IProxy.
func (d *Device) Bind(callbacks native.ICallbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = callbacks
	d.calls["Bind"]++
}

// BeginOperation implements native.IProxy by starting the script for the
// next attempt on a new goroutine.
func (d *Device) BeginOperation(req native.BeginRequest) (native.Verdict, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls["BeginOperation"]++
	if d.closed {
		return native.VerdictFailedInternalError, ErrDeviceClosed
	}

	d.requests = append(d.requests, req)
	if d.beginErr != nil {
		return native.VerdictFailedInternalError, d.beginErr
	}
	if d.verdict != native.VerdictSuccess {
		return d.verdict, nil
	}
	if d.current != nil && !d.current.isFinished() {
		return native.VerdictFailedOperationAlreadyInProgress, nil
	}

	attempt := len(d.requests)
	r := newRun(req, d.script(attempt, req))
	d.current = r

	logrus.WithFields(logrus.Fields{
		"function":   "Device.BeginOperation",
		"resource":   req.ResourceID,
		"direction":  req.Direction.String(),
		"attempt":    attempt,
		"parameters": req.Parameters.String(),
	}).Debug("Simulating native operation")

	d.wg.Add(1)
	go d.play(r)
	return native.VerdictSuccess, nil
}

// TryPause implements native.IProxy.
func (d *Device) TryPause() bool {
	d.mu.Lock()
	d.calls["TryPause"]++
	r, cb := d.current, d.callbacks
	d.mu.Unlock()

	if r == nil {
		return false
	}
	from, ok := r.pause()
	if !ok {
		return false
	}
	cb.StateChangedAdvertisement(r.req.ResourceID, from, native.StatePaused, 0, nil)
	return true
}

// TryResume implements native.IProxy.
func (d *Device) TryResume() bool {
	d.mu.Lock()
	d.calls["TryResume"]++
	r, cb := d.current, d.callbacks
	d.mu.Unlock()

	if r == nil || !r.isPaused() {
		return false
	}
	cb.StateChangedAdvertisement(r.req.ResourceID, native.StatePaused, native.StateResuming, 0, nil)
	to := r.resume()
	cb.StateChangedAdvertisement(r.req.ResourceID, native.StateResuming, to, 0, nil)
	return true
}

// TryCancel implements native.IProxy according to the device's CancelMode.
func (d *Device) TryCancel(reason string) bool {
	d.mu.Lock()
	d.calls["TryCancel"]++
	r, cb, mode, late := d.current, d.callbacks, d.cancelMode, d.lateConfirmation
	d.mu.Unlock()

	if mode == CancelIgnore || r == nil || r.isFinished() {
		return false
	}
	from := r.halt()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		resource := r.req.ResourceID
		cb.StateChangedAdvertisement(resource, from, native.StateCancelling, 0, nil)
		cb.CancellingAdvertisement(reason)

		switch mode {
		case CancelConfirm:
			cb.StateChangedAdvertisement(resource, native.StateCancelling, native.StateCancelled, 0, nil)
			cb.CancelledAdvertisement(reason)
		case CancelAcknowledgeOnly:
			if late > 0 {
				time.Sleep(late)
				cb.CancelledAdvertisement(reason)
			}
		}
	}()
	return true
}

// Disconnect implements native.IProxy.
func (d *Device) Disconnect() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["Disconnect"]++
	if d.current != nil {
		d.current.halt()
	}
	return true
}

// CleanupResourcesOfLastOperation implements native.IProxy by stopping the
// last script.
func (d *Device) CleanupResourcesOfLastOperation() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["CleanupResourcesOfLastOperation"]++
	if d.current != nil {
		d.current.halt()
		d.current = nil
	}
}

// LastFatalErrorMessage implements native.IProxy.
func (d *Device) LastFatalErrorMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFatal
}

// Close implements native.IProxy.
func (d *Device) Close() error {
	d.mu.Lock()
	d.calls["Close"]++
	d.closed = true
	if d.current != nil {
		d.current.halt()
	}
	d.mu.Unlock()
	return nil
}

// Wait blocks until every script goroutine has exited.
func (d *Device) Wait() {
	d.wg.Wait()
}

// Requests returns a copy of every BeginRequest received.
func (d *Device) Requests() []native.BeginRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]native.BeginRequest, len(d.requests))
	copy(out, d.requests)
	return out
}

// Attempts returns the number of BeginOperation calls that reached the script.
func (d *Device) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// Calls returns how often the named IProxy method was called.
func (d *Device) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// File returns a stored file. Lookups ignore case, like the devices do.
func (d *Device) File(path string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[fileKey(path)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Checksum returns the BLAKE2b-256 hex digest of a stored file.
func (d *Device) Checksum(path string) (string, bool) {
	data, ok := d.File(path)
	if !ok {
		return "", false
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}

func (d *Device) play(r *run) {
	defer d.wg.Done()

	d.mu.Lock()
	cb := d.callbacks
	delay := d.stepDelay
	d.mu.Unlock()

	defer r.finish()
	for _, a := range r.actions {
		if delay > 0 && !r.sleep(delay) {
			return
		}
		if !r.waitWhilePaused() {
			return
		}
		if !d.perform(r, cb, a) {
			return
		}
	}
}

// perform executes one action. It reports false when the script must stop.
func (d *Device) perform(r *run, cb native.ICallbacks, a Action) bool {
	resource := r.req.ResourceID
	switch a.kind {
	case actionWait:
		return r.sleep(a.delay)

	case actionStall:
		<-r.stop
		return false

	case actionTransition:
		if r.isHalted() {
			return false
		}
		r.setState(a.newState)
		cb.StateChangedAdvertisement(resource, a.oldState, a.newState, d.totalBytes(r.req), nil)

	case actionProgress:
		if r.isHalted() {
			return false
		}
		cb.ProgressAdvertisement(resource, a.percentage, 12.5, 10.0)

	case actionLog:
		if a.level >= r.req.MinimumLogLevel {
			cb.LogAdvertisement(a.message, "simulated", a.level, resource)
		}

	case actionFail:
		if r.isHalted() {
			return false
		}
		d.fail(r, cb, a.code, a.message)
		return false

	case actionFinish:
		if r.isHalted() {
			return false
		}
		d.complete(r, cb)
		return false
	}
	return true
}

func (d *Device) fail(r *run, cb native.ICallbacks, code native.ErrorCode, message string) {
	d.mu.Lock()
	d.lastFatal = message
	d.mu.Unlock()

	from := r.setState(native.StateError)
	cb.StateChangedAdvertisement(r.req.ResourceID, from, native.StateError, 0, nil)
	cb.FatalErrorAdvertisement(r.req.ResourceID, message, code)
}

func (d *Device) complete(r *run, cb native.ICallbacks) {
	key := fileKey(r.req.ResourceID)

	if r.req.Direction == native.DirectionUpload {
		d.mu.Lock()
		d.files[key] = append([]byte(nil), r.req.Payload...)
		d.mu.Unlock()

		from := r.setState(native.StateComplete)
		cb.StateChangedAdvertisement(r.req.ResourceID, from, native.StateComplete, int64(len(r.req.Payload)), nil)
		return
	}

	d.mu.Lock()
	data, ok := d.files[key]
	d.mu.Unlock()
	if !ok {
		d.fail(r, cb, native.ErrorCodeFilesystemNotFound, "NO ENTRY (5)")
		return
	}

	from := r.setState(native.StateComplete)
	cb.StateChangedAdvertisement(r.req.ResourceID, from, native.StateComplete, int64(len(data)), append([]byte(nil), data...))
}

func (d *Device) totalBytes(req native.BeginRequest) int64 {
	if req.Direction == native.DirectionUpload {
		return int64(len(req.Payload))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.files[fileKey(req.ResourceID)]))
}

func fileKey(path string) string {
	return strings.ToLower(strings.TrimSpace(path))
}
