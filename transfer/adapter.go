package transfer

import (
	"fmt"

	"github.com/opd-ai/mcuxfer/native"
	"github.com/sirupsen/logrus"
)

// callbacksAdapter turns native advertisements into engine events. Every
// method may run on any goroutine.
type callbacksAdapter struct {
	engine *Engine
}

var _ native.ICallbacks = (*callbacksAdapter)(nil)

func (a *callbacksAdapter) StateChangedAdvertisement(resource string, oldState, newState native.State, totalBytes int64, data []byte) {
	a.engine.changeState(resource, oldState, newState, totalBytes, data)
}

func (a *callbacksAdapter) ProgressAdvertisement(resource string, percentage int, current, average float32) {
	a.engine.events.progress.emit(ProgressEvent{
		Resource:              resource,
		Percentage:            percentage,
		CurrentThroughputKBps: current,
		AverageThroughputKBps: average,
	})
}

func (a *callbacksAdapter) FatalErrorAdvertisement(resource, message string, code native.ErrorCode) {
	a.engine.logger.WithFields(logrus.Fields{
		"function":   "FatalErrorAdvertisement",
		"resource":   resource,
		"error_code": int(code),
		"message":    message,
	}).Error("Native layer reported a fatal error")

	a.engine.events.fatalError.emit(FatalErrorEvent{
		Resource: resource,
		Message:  message,
		Code:     code,
	})
}

func (a *callbacksAdapter) CancellingAdvertisement(reason string) {
	a.engine.events.cancelling.emit(CancellingEvent{Reason: reason})
	a.engine.cancellation.armDeathknell(reason)
}

func (a *callbacksAdapter) CancelledAdvertisement(reason string) {
	a.engine.cancellation.confirm(reason)
}

func (a *callbacksAdapter) BusyStateChangedAdvertisement(busy bool) {
	a.engine.setBusy(busy)
}

func (a *callbacksAdapter) LogAdvertisement(message, category string, level native.LogLevel, resource string) {
	if uint32(level) < a.engine.minLogLevel.Load() {
		return
	}

	a.engine.logger.WithFields(logrus.Fields{
		"function": "LogAdvertisement",
		"resource": resource,
		"category": category,
	}).Log(logrusLevel(level), message)

	a.engine.events.log.emit(LogEvent{
		Level:    level,
		Message:  message,
		Category: category,
		Resource: resource,
	})
}

// changeState records a transition and emits StateChanged followed by the
// events derived from it. Used for native advertisements and for the
// transitions the engine synthesizes itself.
func (e *Engine) changeState(resource string, oldState, newState native.State, totalBytes int64, data []byte) {
	if e.states.record(resource, oldState, newState) {
		e.emitLog(native.LogLevelWarning, resource, fmt.Sprintf(
			"Unexpected state transition of %q from '%s' to '%s'", resource, oldState, newState))
	}

	e.events.stateChanged.emit(StateChangedEvent{
		Resource: resource,
		OldState: oldState,
		NewState: newState,
	})

	switch newState {
	case native.StatePaused:
		e.events.paused.emit(PausedEvent{Resource: resource})

	case native.StateInProgress:
		if oldState == native.StateResuming {
			e.events.resumed.emit(ResumedEvent{Resource: resource})
			return
		}
		e.events.started.emit(StartedEvent{Resource: resource, TotalBytes: totalBytes})

	case native.StateComplete:
		if oldState == native.StatePaused || oldState == native.StateResuming {
			e.events.resumed.emit(ResumedEvent{Resource: resource})
		}
		e.events.progress.emit(ProgressEvent{Resource: resource, Percentage: 100})
		e.events.completed.emit(CompletedEvent{Resource: resource, Data: data})
	}
}
