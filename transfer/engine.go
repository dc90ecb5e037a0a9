package transfer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opd-ai/mcuxfer/connparams"
	"github.com/opd-ai/mcuxfer/metrics"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/sirupsen/logrus"
)

// ErrNilProxy is returned by New without a native proxy.
var ErrNilProxy = errors.New("native proxy is nil")

// Engine drives transfers through a native proxy. It runs at most one
// operation at a time and is safe for concurrent use.
type Engine struct {
	proxy         native.IProxy
	config        Config
	selector      *connparams.Selector
	logger        *logrus.Logger
	timeProvider  TimeProvider
	newBackOff    func(delay time.Duration) backoff.BackOff
	recordMetrics bool

	events       *eventHub
	states       *stateTracker
	gate         *pauseGate
	cancellation *cancellationController
	guard        operationGuard

	minLogLevel atomic.Uint32
	busy        atomic.Bool
	phase       atomic.Pointer[retryPhase]

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates an engine on top of proxy and binds itself as the proxy's
// advertisement sink.
func New(proxy native.IProxy, opts ...Option) (*Engine, error) {
	if proxy == nil {
		return nil, ErrNilProxy
	}

	e := &Engine{
		proxy:         proxy,
		config:        DefaultConfig(),
		selector:      connparams.NewSelector(),
		logger:        logrus.StandardLogger(),
		timeProvider:  DefaultTimeProvider{},
		newBackOff:    constantBackOff,
		recordMetrics: true,
		events:        newEventHub(),
		states:        newStateTracker(),
		gate:          newPauseGate(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.MaxTries <= 0 {
		return nil, invalidArgument(fmt.Errorf("max tries must be positive, got %d", e.config.MaxTries))
	}
	if e.config.SuspiciousProgressThreshold < 0 {
		e.config.SuspiciousProgressThreshold = 0
	}

	e.cancellation = newCancellationController(e.events.cancelled.emit, e.onDeathknell)
	e.minLogLevel.Store(uint32(e.config.MinimumNativeLogLevel))
	proxy.Bind(&callbacksAdapter{engine: e})

	e.logger.WithFields(logrus.Fields{
		"function":          "New",
		"max_tries":         e.config.MaxTries,
		"attempt_timeout":   e.config.AttemptTimeout,
		"retry_delay":       e.config.RetryDelay,
		"graceful_timeout":  e.config.GracefulCancellationTimeout,
		"continue_on_error": e.config.ContinueOnError,
	}).Info("Transfer engine created")

	return e, nil
}

// Config returns the engine defaults.
func (e *Engine) Config() Config {
	return e.config
}

// Selector returns the connection parameter selector, e.g. to register
// problematic devices at runtime.
func (e *Engine) Selector() *connparams.Selector {
	return e.selector
}

// State returns the last known state of resource.
func (e *Engine) State(resource string) native.State {
	return e.states.get(resource)
}

// Phase returns the retry phase of the resource currently (or last)
// transferred, PhaseIdle before the first transfer.
func (e *Engine) Phase() string {
	if p := e.phase.Load(); p != nil {
		return p.current()
	}
	return PhaseIdle
}

// IsBusy reports the last busy state signalled by the link or by pause/resume.
func (e *Engine) IsBusy() bool {
	return e.busy.Load()
}

// IsOperationOngoing reports whether an operation holds the engine.
func (e *Engine) IsOperationOngoing() bool {
	return e.guard.isHeld()
}

// TryPause asks the running operation to pause. It returns false when there
// is nothing to pause: no operation, a requested cancellation or a closed
// engine.
func (e *Engine) TryPause() bool {
	if e.closed.Load() || e.cancellation.isRequested() || !e.guard.isHeld() {
		return false
	}

	e.gate.close()
	e.callNative("TryPause", e.proxy.TryPause)
	e.setBusy(false)

	e.logger.WithFields(logrus.Fields{
		"function": "TryPause",
	}).Info("Transfer pause requested")
	return true
}

// TryResume releases a paused operation. Same preconditions as TryPause.
func (e *Engine) TryResume() bool {
	if e.closed.Load() || e.cancellation.isRequested() || !e.guard.isHeld() {
		return false
	}

	e.gate.open()
	e.callNative("TryResume", e.proxy.TryResume)
	e.setBusy(true)

	e.logger.WithFields(logrus.Fields{
		"function": "TryResume",
	}).Info("Transfer resume requested")
	return true
}

// TryCancel requests cancellation of the running operation and returns
// immediately. The operation ends once the native layer confirms, or once
// the graceful cancellation timeout forces it. It returns false when no
// operation is running.
func (e *Engine) TryCancel(reason string) bool {
	if !e.guard.isHeld() {
		return false
	}

	e.logger.WithFields(logrus.Fields{
		"function": "TryCancel",
		"reason":   reason,
	}).Info("Transfer cancellation requested")

	e.cancellation.request(reason)
	// The grace period starts with the request whether or not the native
	// layer accepts or ever acknowledges it.
	e.cancellation.armDeathknell(reason)
	e.callNative("TryCancel", func() bool { return e.proxy.TryCancel(reason) })
	e.gate.open()
	return true
}

// Disconnect tears down the link.
func (e *Engine) Disconnect() bool {
	return e.callNative("Disconnect", e.proxy.Disconnect)
}

// LastFatalErrorMessage returns the native layer's last fatal error message.
func (e *Engine) LastFatalErrorMessage() string {
	var msg string
	e.callNative("LastFatalErrorMessage", func() bool {
		msg = e.proxy.LastFatalErrorMessage()
		return true
	})
	return msg
}

// Close cancels any running operation and releases the native proxy. Later
// operations fail with ErrClosed.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.logger.WithFields(logrus.Fields{
			"function": "Close",
			"ongoing":  e.guard.isHeld(),
		}).Info("Closing transfer engine")

		e.TryCancel("engine closed")
		e.closed.Store(true)
		e.gate.open()
		e.cancellation.stop()
		err = e.proxy.Close()
	})
	return err
}

// callNative runs a boolean native call, turning a panic into false.
func (e *Engine) callNative(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"function": "callNative",
				"call":     name,
				"panic":    r,
			}).Error("Native call panicked")
			ok = false
		}
	}()
	return fn()
}

func (e *Engine) setBusy(busy bool) {
	e.busy.Store(busy)
	e.events.busyChanged.emit(BusyStateChangedEvent{Busy: busy})
}

func (e *Engine) onDeathknell(reason string) {
	if e.recordMetrics {
		metrics.DeathknellsTotal.Inc()
	}
	e.emitLog(native.LogLevelWarning, "", fmt.Sprintf("Native layer did not confirm cancellation (reason: %q) in time, forcing it", reason))
}

// emitLog writes an engine diagnostic to the logger and to OnLog subscribers.
func (e *Engine) emitLog(level native.LogLevel, resource, message string) {
	e.logger.WithFields(logrus.Fields{
		"function": "emitLog",
		"resource": resource,
		"category": logCategoryEngine,
	}).Log(logrusLevel(level), message)

	e.events.log.emit(LogEvent{
		Level:    level,
		Message:  message,
		Category: logCategoryEngine,
		Resource: resource,
	})
}

const logCategoryEngine = "transfer"

func logrusLevel(level native.LogLevel) logrus.Level {
	switch level {
	case native.LogLevelTrace:
		return logrus.TraceLevel
	case native.LogLevelDebug, native.LogLevelVerbose:
		return logrus.DebugLevel
	case native.LogLevelInfo:
		return logrus.InfoLevel
	case native.LogLevelWarning:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}
