package transfer

import (
	"sync"

	"github.com/opd-ai/mcuxfer/native"
	"github.com/sirupsen/logrus"
)

// StateChangedEvent reports a transition of a resource's state.
type StateChangedEvent struct {
	Resource string
	OldState native.State
	NewState native.State
}

// ProgressEvent reports transfer progress. Throughputs are in KB/s.
type ProgressEvent struct {
	Resource              string
	Percentage            int
	CurrentThroughputKBps float32
	AverageThroughputKBps float32
}

// StartedEvent is emitted when bytes start moving.
type StartedEvent struct {
	Resource   string
	TotalBytes int64
}

// PausedEvent is emitted when a transfer is paused.
type PausedEvent struct {
	Resource string
}

// ResumedEvent is emitted when a paused transfer continues.
type ResumedEvent struct {
	Resource string
}

// CompletedEvent is emitted when a transfer finishes. Data holds the
// downloaded bytes and is nil for uploads.
type CompletedEvent struct {
	Resource string
	Data     []byte
}

// FatalErrorEvent mirrors a fatal-error advertisement.
type FatalErrorEvent struct {
	Resource string
	Message  string
	Code     native.ErrorCode
}

// CancellingEvent is emitted when the native layer acknowledges a cancel request.
type CancellingEvent struct {
	Reason string
}

// CancelledEvent is emitted at most once per operation. Forced is set when
// the engine synthesized it because the native layer never confirmed.
type CancelledEvent struct {
	Reason string
	Forced bool
}

// BusyStateChangedEvent reports the link switching between busy and idle.
type BusyStateChangedEvent struct {
	Busy bool
}

// LogEvent carries an engine diagnostic or a native log advertisement.
type LogEvent struct {
	Level    native.LogLevel
	Message  string
	Category string
	Resource string
}

type observer[T any] struct {
	id uint64
	fn func(T)
}

// observerList is a concurrency-safe list of handlers for one event type.
type observerList[T any] struct {
	name     string
	mu       sync.RWMutex
	nextID   uint64
	handlers []observer[T]
}

func (l *observerList[T]) subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.handlers = append(l.handlers, observer[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, h := range l.handlers {
				if h.id == id {
					l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *observerList[T]) emit(ev T) {
	l.mu.RLock()
	snapshot := make([]observer[T], len(l.handlers))
	copy(snapshot, l.handlers)
	l.mu.RUnlock()

	for _, h := range snapshot {
		l.invoke(h.fn, ev)
	}
}

func (l *observerList[T]) invoke(fn func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "observerList.invoke",
				"event":    l.name,
				"panic":    r,
			}).Warn("Event subscriber panicked, ignoring")
		}
	}()
	fn(ev)
}

type eventHub struct {
	stateChanged observerList[StateChangedEvent]
	progress     observerList[ProgressEvent]
	started      observerList[StartedEvent]
	paused       observerList[PausedEvent]
	resumed      observerList[ResumedEvent]
	completed    observerList[CompletedEvent]
	fatalError   observerList[FatalErrorEvent]
	cancelling   observerList[CancellingEvent]
	cancelled    observerList[CancelledEvent]
	busyChanged  observerList[BusyStateChangedEvent]
	log          observerList[LogEvent]
}

func newEventHub() *eventHub {
	h := &eventHub{}
	h.stateChanged.name = "state_changed"
	h.progress.name = "progress"
	h.started.name = "started"
	h.paused.name = "paused"
	h.resumed.name = "resumed"
	h.completed.name = "completed"
	h.fatalError.name = "fatal_error"
	h.cancelling.name = "cancelling"
	h.cancelled.name = "cancelled"
	h.busyChanged.name = "busy_state_changed"
	h.log.name = "log"
	return h
}

// OnStateChanged subscribes fn to state transitions. The returned function
// removes the subscription; calling it more than once is harmless.
func (e *Engine) OnStateChanged(fn func(StateChangedEvent)) (unsubscribe func()) {
	return e.events.stateChanged.subscribe(fn)
}

// OnProgress subscribes fn to progress updates.
func (e *Engine) OnProgress(fn func(ProgressEvent)) (unsubscribe func()) {
	return e.events.progress.subscribe(fn)
}

// OnStarted subscribes fn to transfer starts.
func (e *Engine) OnStarted(fn func(StartedEvent)) (unsubscribe func()) {
	return e.events.started.subscribe(fn)
}

// OnPaused subscribes fn to pauses.
func (e *Engine) OnPaused(fn func(PausedEvent)) (unsubscribe func()) {
	return e.events.paused.subscribe(fn)
}

// OnResumed subscribes fn to resumes.
func (e *Engine) OnResumed(fn func(ResumedEvent)) (unsubscribe func()) {
	return e.events.resumed.subscribe(fn)
}

// OnCompleted subscribes fn to completions.
func (e *Engine) OnCompleted(fn func(CompletedEvent)) (unsubscribe func()) {
	return e.events.completed.subscribe(fn)
}

// OnFatalError subscribes fn to fatal-error advertisements.
func (e *Engine) OnFatalError(fn func(FatalErrorEvent)) (unsubscribe func()) {
	return e.events.fatalError.subscribe(fn)
}

// OnCancelling subscribes fn to cancellation acknowledgements.
func (e *Engine) OnCancelling(fn func(CancellingEvent)) (unsubscribe func()) {
	return e.events.cancelling.subscribe(fn)
}

// OnCancelled subscribes fn to cancellation confirmations.
func (e *Engine) OnCancelled(fn func(CancelledEvent)) (unsubscribe func()) {
	return e.events.cancelled.subscribe(fn)
}

// OnBusyStateChanged subscribes fn to busy/idle changes of the link.
func (e *Engine) OnBusyStateChanged(fn func(BusyStateChangedEvent)) (unsubscribe func()) {
	return e.events.busyChanged.subscribe(fn)
}

// OnLog subscribes fn to diagnostics.
func (e *Engine) OnLog(fn func(LogEvent)) (unsubscribe func()) {
	return e.events.log.subscribe(fn)
}
