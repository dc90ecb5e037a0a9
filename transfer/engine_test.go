package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/mcuxfer/metrics"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/opd-ai/mcuxfer/simulated"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadRequest(resource string) Request {
	return Request{
		Direction: native.DirectionUpload,
		Resource:  resource,
		Payload:   []byte("payload"),
		Device:    testDevice,
	}
}

func TestNewRejectsNilProxy(t *testing.T) {
	e, err := New(nil)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, ErrNilProxy)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTries = 0
	_, err := New(simulated.NewDevice(), WithConfig(cfg), WithMetrics(false))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewBindsAdapter(t *testing.T) {
	dev := simulated.NewDevice()
	newTestEngine(t, dev)
	assert.Equal(t, 1, dev.Calls("Bind"))
}

func TestControlWithoutOperation(t *testing.T) {
	dev := simulated.NewDevice()
	e := newTestEngine(t, dev)
	rec := record(e)

	assert.False(t, e.TryPause())
	assert.False(t, e.TryResume())
	assert.False(t, e.TryCancel("nothing to cancel"))
	assert.False(t, e.IsOperationOngoing())
	assert.Equal(t, PhaseIdle, e.Phase())
	assert.Zero(t, rec.total())
	assert.Zero(t, dev.Calls("TryCancel"))
}

func TestExclusivityGuard(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Hang()))
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	assert.True(t, e.IsOperationOngoing())

	_, err := e.Transfer(context.Background(), uploadRequest("/lfs/b.bin"))
	assert.ErrorIs(t, err, ErrOperationInProgress)
	_, err = e.TransferMany(context.Background(), BatchRequest{
		Direction: native.DirectionDownload,
		Items:     Items("/lfs/c.bin"),
		Device:    testDevice,
	})
	assert.ErrorIs(t, err, ErrOperationInProgress)
	assert.Equal(t, 1, dev.Attempts())

	require.True(t, e.TryCancel("done"))
	assert.ErrorIs(t, waitErr(t, done), ErrCancelled)
	assert.False(t, e.IsOperationOngoing())
}

func TestCancelConfirmedByNativeLayer(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Hang()))
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	require.True(t, e.TryCancel("user request"))

	err := waitErr(t, done)
	require.ErrorIs(t, err, ErrCancelled)
	var cancelled *CancelledError
	require.True(t, errors.As(err, &cancelled))
	assert.Equal(t, "user request", cancelled.Reason)

	dev.Wait()
	s := rec.snapshot()
	require.Len(t, s.cancelled, 1)
	assert.False(t, s.cancelled[0].Forced)
	assert.Equal(t, "user request", s.cancelled[0].Reason)
	assert.Len(t, s.cancelling, 1)
	assert.Equal(t, PhaseCancelled, e.Phase())
	assert.Equal(t, 1, dev.Attempts())
}

func TestDeathknellForcesCancellation(t *testing.T) {
	dev := simulated.NewDevice(
		simulated.WithScript(simulated.Hang()),
		simulated.WithCancelMode(simulated.CancelAcknowledgeOnly),
		simulated.WithLateConfirmation(200*time.Millisecond),
	)
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	require.True(t, e.TryCancel("too slow"))

	assert.ErrorIs(t, waitErr(t, done), ErrCancelled)

	// Let the late native confirmation arrive; it must not produce a second event.
	dev.Wait()
	s := rec.snapshot()
	require.Len(t, s.cancelled, 1)
	assert.True(t, s.cancelled[0].Forced)
	assert.Equal(t, "too slow", s.cancelled[0].Reason)
	assert.Len(t, s.cancelling, 1)
	assert.Len(t, rec.warnings("did not confirm cancellation"), 1)
}

func TestLateConfirmationDoesNotLeakIntoNextOperation(t *testing.T) {
	dev := simulated.NewDevice(
		simulated.WithScript(simulated.Sequence(simulated.Hang(), simulated.Slow(400*time.Millisecond))),
		simulated.WithCancelMode(simulated.CancelAcknowledgeOnly),
		simulated.WithLateConfirmation(200*time.Millisecond),
	)
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	require.True(t, e.TryCancel("first"))
	require.ErrorIs(t, waitErr(t, done), ErrCancelled)

	// The confirmation of the first operation lands while the second runs.
	require.NoError(t, e.Upload(context.Background(), "/lfs/b.bin", []byte("x"), testDevice))
	dev.Wait()

	s := rec.snapshot()
	require.Len(t, s.cancelled, 1)
	assert.Equal(t, CancelledEvent{Reason: "first", Forced: true}, s.cancelled[0])
	assert.Equal(t, PhaseSucceeded, e.Phase())
}

func TestSilentNativeCancellationIsBounded(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Hang()))
	cfg := DefaultConfig()
	cfg.GracefulCancellationTimeout = 50 * time.Millisecond
	e, err := New(&silentCancelProxy{Device: dev}, WithConfig(cfg), WithMetrics(false))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = e.Close()
		dev.Wait()
	})
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	require.True(t, e.TryCancel("stop"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("transfer still running after the graceful cancellation timeout")
	}

	s := rec.snapshot()
	require.Len(t, s.cancelled, 1)
	assert.True(t, s.cancelled[0].Forced)
	assert.Empty(t, s.cancelling)
}

func TestInFlightGaugeHonoursMetricsSwitch(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Hang()))
	e := newTestEngine(t, dev)
	rec := record(e)
	before := testutil.ToFloat64(metrics.OperationsInFlight)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	assert.Equal(t, before, testutil.ToFloat64(metrics.OperationsInFlight))

	require.True(t, e.TryCancel("stop"))
	require.ErrorIs(t, waitErr(t, done), ErrCancelled)
	assert.Equal(t, before, testutil.ToFloat64(metrics.OperationsInFlight))
}

func TestCancelIgnoredByNativeLayer(t *testing.T) {
	dev := simulated.NewDevice(
		simulated.WithScript(simulated.Hang()),
		simulated.WithCancelMode(simulated.CancelIgnore),
	)
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	require.True(t, e.TryCancel("stop"))

	assert.ErrorIs(t, waitErr(t, done), ErrCancelled)
	s := rec.snapshot()
	require.Len(t, s.cancelled, 1)
	assert.True(t, s.cancelled[0].Forced)
	assert.Empty(t, s.cancelling)
}

func TestCancelKeepsFirstReason(t *testing.T) {
	dev := simulated.NewDevice(
		simulated.WithScript(simulated.Hang()),
		simulated.WithCancelMode(simulated.CancelIgnore),
	)
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	require.True(t, e.TryCancel("first"))
	e.TryCancel("second")

	var cancelled *CancelledError
	require.True(t, errors.As(waitErr(t, done), &cancelled))
	assert.Equal(t, "first", cancelled.Reason)
}

func TestPauseAndResumeBetweenAttempts(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.FailFirst(1, native.ErrorCodeCorrupt, 0)))
	e := newTestEngine(t, dev)
	rec := record(e)

	req := uploadRequest("/lfs/a.bin")
	req.RetryDelay = 100 * time.Millisecond
	done := transferAsync(e, req)

	waitFor(t, rec.fatalCh, "first failure")
	require.True(t, e.TryPause())
	waitFor(t, rec.pausedCh, "paused")
	assert.Equal(t, 1, dev.Attempts())
	assert.Equal(t, native.StatePaused, e.State("/lfs/a.bin"))

	require.True(t, e.TryResume())
	require.NoError(t, waitErr(t, done))
	assert.Equal(t, 2, dev.Attempts())

	s := rec.snapshot()
	assert.Len(t, s.paused, 1)
	assert.Len(t, s.resumed, 1)
	assert.Equal(t, []bool{false, true}, s.busy)
	assert.Zero(t, rec.statesInto(native.StateResuming))
	assert.Len(t, s.completed, 1)
}

func TestCancelWhilePaused(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.FailFirst(1, native.ErrorCodeCorrupt, 0)))
	e := newTestEngine(t, dev)
	rec := record(e)

	req := uploadRequest("/lfs/a.bin")
	req.RetryDelay = 50 * time.Millisecond
	done := transferAsync(e, req)

	waitFor(t, rec.fatalCh, "first failure")
	require.True(t, e.TryPause())
	waitFor(t, rec.pausedCh, "paused")

	require.True(t, e.TryCancel("abandon"))
	assert.ErrorIs(t, waitErr(t, done), ErrCancelled)
	assert.Equal(t, 1, dev.Attempts())
	assert.Len(t, rec.snapshot().cancelled, 1)

	assert.False(t, e.TryResume())
}

func TestNativePauseAndResume(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Hang()))
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")

	require.True(t, e.TryPause())
	waitFor(t, rec.pausedCh, "paused")
	require.True(t, e.TryResume())

	s := rec.snapshot()
	assert.Len(t, s.resumed, 1)
	assert.Len(t, s.started, 1, "resuming must not look like a new start")
	assert.Equal(t, native.StateInProgress, e.State("/lfs/a.bin"))

	require.True(t, e.TryCancel("done"))
	assert.ErrorIs(t, waitErr(t, done), ErrCancelled)
}

func TestContextDeadlineCancels(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Hang()))
	e := newTestEngine(t, dev)
	rec := record(e)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Transfer(ctx, uploadRequest("/lfs/a.bin"))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, dev.Calls("TryCancel"))

	dev.Wait()
	assert.Len(t, rec.snapshot().cancelled, 1)
	assert.False(t, e.IsOperationOngoing())
}

func TestCloseCancelsAndRejects(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Hang()))
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")

	require.NoError(t, e.Close())
	assert.ErrorIs(t, waitErr(t, done), ErrCancelled)
	assert.Equal(t, 1, dev.Calls("Close"))

	_, err := e.Transfer(context.Background(), uploadRequest("/lfs/b.bin"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, e.TryPause())
	assert.NoError(t, e.Close())
	assert.Equal(t, 1, dev.Calls("Close"))
}

func TestEngineCanRunAgainAfterCancel(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.Sequence(simulated.Hang(), simulated.Succeed(2))))
	e := newTestEngine(t, dev)
	rec := record(e)

	done := transferAsync(e, uploadRequest("/lfs/a.bin"))
	waitFor(t, rec.startedCh, "started")
	require.True(t, e.TryCancel("first run"))
	require.ErrorIs(t, waitErr(t, done), ErrCancelled)
	dev.Wait()

	require.NoError(t, e.Upload(context.Background(), "/lfs/a.bin", []byte("x"), testDevice))
	assert.Len(t, rec.snapshot().cancelled, 1)
	assert.Equal(t, PhaseSucceeded, e.Phase())
}

func TestAdapterDerivedEvents(t *testing.T) {
	dev := simulated.NewDevice()
	e := newTestEngine(t, dev)
	rec := record(e)
	a := &callbacksAdapter{engine: e}

	a.BusyStateChangedAdvertisement(true)
	assert.True(t, e.IsBusy())
	a.BusyStateChangedAdvertisement(false)
	assert.False(t, e.IsBusy())

	a.StateChangedAdvertisement("/x", native.StateNone, native.StateComplete, 0, []byte("ok"))
	s := rec.snapshot()
	require.Len(t, s.completed, 1)
	assert.Equal(t, []byte("ok"), s.completed[0].Data)
	assert.Len(t, rec.warnings("unexpected state transition"), 1)
	assert.Equal(t, native.StateComplete, e.State("/x"))

	a.StateChangedAdvertisement("/x", native.StatePaused, native.StateComplete, 0, nil)
	assert.Len(t, rec.snapshot().resumed, 1)
}

func TestUnsubscribe(t *testing.T) {
	dev := simulated.NewDevice()
	e := newTestEngine(t, dev)

	var calls int
	unsubscribe := e.OnCompleted(func(CompletedEvent) { calls++ })
	require.NoError(t, e.Upload(context.Background(), "/lfs/a.bin", []byte("x"), testDevice))
	unsubscribe()
	unsubscribe()
	require.NoError(t, e.Upload(context.Background(), "/lfs/a.bin", []byte("x"), testDevice))
	assert.Equal(t, 1, calls)
}

func TestMetricsAreRecorded(t *testing.T) {
	dev := simulated.NewDevice(simulated.WithScript(simulated.FailFirst(1, native.ErrorCodeCorrupt, 0)))
	e := newTestEngine(t, dev, WithMetrics(true))

	succeeded := metrics.TransfersTotal.WithLabelValues("upload", metrics.OutcomeSucceeded)
	attempts := metrics.AttemptsTotal.WithLabelValues("upload")
	before := testutil.ToFloat64(succeeded)
	attemptsBefore := testutil.ToFloat64(attempts)

	require.NoError(t, e.Upload(context.Background(), "/lfs/a.bin", []byte("x"), testDevice))

	assert.Equal(t, before+1, testutil.ToFloat64(succeeded))
	assert.Equal(t, attemptsBefore+2, testutil.ToFloat64(attempts))
	assert.Zero(t, testutil.ToFloat64(metrics.OperationsInFlight))
}
