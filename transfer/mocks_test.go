package transfer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/mcuxfer/connparams"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/opd-ai/mcuxfer/simulated"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// panickingProxy panics on BeginOperation and otherwise behaves like the
// embedded simulated device.
type panickingProxy struct {
	*simulated.Device
}

func (p *panickingProxy) BeginOperation(native.BeginRequest) (native.Verdict, error) {
	panic("native symbol not found")
}

// silentCancelProxy accepts every cancel request and never advertises
// anything about it.
type silentCancelProxy struct {
	*simulated.Device
}

func (p *silentCancelProxy) TryCancel(string) bool {
	return true
}

var testDevice = connparams.Device{Manufacturer: "Acme", Model: "Phone 7"}

// newTestEngine builds an engine with fast retries and no metrics on top of dev.
func newTestEngine(t *testing.T, dev *simulated.Device, opts ...Option) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.GracefulCancellationTimeout = 50 * time.Millisecond

	all := append([]Option{WithConfig(cfg), WithMetrics(false), WithTimeProvider(newMockTimeProvider())}, opts...)
	e, err := New(dev, all...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = e.Close()
		dev.Wait()
	})
	return e
}

// recorder captures every event an engine emits.
type recorder struct {
	mu         sync.Mutex
	states     []StateChangedEvent
	progress   []ProgressEvent
	started    []StartedEvent
	paused     []PausedEvent
	resumed    []ResumedEvent
	completed  []CompletedEvent
	fatal      []FatalErrorEvent
	cancelling []CancellingEvent
	cancelled  []CancelledEvent
	busy       []bool
	logs       []LogEvent

	startedCh chan struct{}
	fatalCh   chan struct{}
	pausedCh  chan struct{}
}

func record(e *Engine) *recorder {
	r := &recorder{
		startedCh: make(chan struct{}, 64),
		fatalCh:   make(chan struct{}, 64),
		pausedCh:  make(chan struct{}, 64),
	}
	e.OnStateChanged(func(ev StateChangedEvent) { r.add(func() { r.states = append(r.states, ev) }) })
	e.OnProgress(func(ev ProgressEvent) { r.add(func() { r.progress = append(r.progress, ev) }) })
	e.OnStarted(func(ev StartedEvent) {
		r.add(func() { r.started = append(r.started, ev) })
		r.startedCh <- struct{}{}
	})
	e.OnPaused(func(ev PausedEvent) {
		r.add(func() { r.paused = append(r.paused, ev) })
		r.pausedCh <- struct{}{}
	})
	e.OnResumed(func(ev ResumedEvent) { r.add(func() { r.resumed = append(r.resumed, ev) }) })
	e.OnCompleted(func(ev CompletedEvent) { r.add(func() { r.completed = append(r.completed, ev) }) })
	e.OnFatalError(func(ev FatalErrorEvent) {
		r.add(func() { r.fatal = append(r.fatal, ev) })
		r.fatalCh <- struct{}{}
	})
	e.OnCancelling(func(ev CancellingEvent) { r.add(func() { r.cancelling = append(r.cancelling, ev) }) })
	e.OnCancelled(func(ev CancelledEvent) { r.add(func() { r.cancelled = append(r.cancelled, ev) }) })
	e.OnBusyStateChanged(func(ev BusyStateChangedEvent) { r.add(func() { r.busy = append(r.busy, ev.Busy) }) })
	e.OnLog(func(ev LogEvent) { r.add(func() { r.logs = append(r.logs, ev) }) })
	return r
}

func (r *recorder) add(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:     append([]StateChangedEvent(nil), r.states...),
		progress:   append([]ProgressEvent(nil), r.progress...),
		started:    append([]StartedEvent(nil), r.started...),
		paused:     append([]PausedEvent(nil), r.paused...),
		resumed:    append([]ResumedEvent(nil), r.resumed...),
		completed:  append([]CompletedEvent(nil), r.completed...),
		fatal:      append([]FatalErrorEvent(nil), r.fatal...),
		cancelling: append([]CancellingEvent(nil), r.cancelling...),
		cancelled:  append([]CancelledEvent(nil), r.cancelled...),
		busy:       append([]bool(nil), r.busy...),
		logs:       append([]LogEvent(nil), r.logs...),
	}
}

func (r *recorder) total() int {
	s := r.snapshot()
	return len(s.states) + len(s.progress) + len(s.started) + len(s.paused) + len(s.resumed) +
		len(s.completed) + len(s.fatal) + len(s.cancelling) + len(s.cancelled) + len(s.busy) + len(s.logs)
}

func (r *recorder) statesInto(s native.State) int {
	n := 0
	for _, ev := range r.snapshot().states {
		if ev.NewState == s {
			n++
		}
	}
	return n
}

func (r *recorder) warnings(contains string) []LogEvent {
	var out []LogEvent
	for _, l := range r.snapshot().logs {
		if l.Level == native.LogLevelWarning && (contains == "" || containsFold(l.Message, contains)) {
			out = append(out, l)
		}
	}
	return out
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// transferAsync runs Transfer on its own goroutine.
func transferAsync(e *Engine, req Request) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := e.Transfer(context.Background(), req)
		done <- err
	}()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("transfer did not return")
		return nil
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
