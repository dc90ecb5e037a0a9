package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/opd-ai/mcuxfer/connparams"
	"github.com/opd-ai/mcuxfer/limits"
	"github.com/opd-ai/mcuxfer/metrics"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/sirupsen/logrus"
)

// Upload writes payload to resource on the device.
func (e *Engine) Upload(ctx context.Context, resource string, payload []byte, device connparams.Device) error {
	_, err := e.Transfer(ctx, Request{
		Direction: native.DirectionUpload,
		Resource:  resource,
		Payload:   payload,
		Device:    device,
	})
	return err
}

// Download reads resource from the device.
func (e *Engine) Download(ctx context.Context, resource string, device connparams.Device) ([]byte, error) {
	return e.Transfer(ctx, Request{
		Direction: native.DirectionDownload,
		Resource:  resource,
		Device:    device,
	})
}

// Transfer runs a single-resource transfer to completion, retrying transient
// failures. It returns the downloaded bytes for downloads and nil for
// uploads. A done ctx cancels the operation.
func (e *Engine) Transfer(ctx context.Context, req Request) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	release, err := e.acquireOperation()
	if err != nil {
		return nil, err
	}
	defer release()

	resolved, err := e.resolve(req)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"function": "Transfer",
			"resource": req.Resource,
			"error":    err.Error(),
		}).Error("Transfer request rejected")
		return nil, err
	}

	operationID := uuid.NewString()
	e.beginOperation(resolved.graceful)
	defer e.endOperation()

	return e.transferOne(ctx, operationID, resolved)
}

// beginOperation resets the per-operation state once the guard is held.
func (e *Engine) beginOperation(graceful time.Duration) {
	e.cancellation.reset(graceful)
	e.gate.open()
	e.minLogLevel.Store(uint32(e.config.MinimumNativeLogLevel))
}

// endOperation leaves the engine ready for the next operation: the gate is
// open and a requested cancellation has produced its Cancelled event.
func (e *Engine) endOperation() {
	e.gate.open()
	e.cancellation.settle()
}

func (e *Engine) resolve(req Request) (resolvedRequest, error) {
	if err := req.Device.Validate(); err != nil {
		return resolvedRequest{}, invalidArgument(err)
	}
	if err := req.Parameters.Validate(); err != nil {
		return resolvedRequest{}, invalidArgument(err)
	}
	resource, err := limits.ValidateAndNormalizeResourcePath(req.Resource)
	if err != nil {
		return resolvedRequest{}, invalidArgument(err)
	}

	var payload []byte
	if req.Direction == native.DirectionUpload {
		if err := limits.ValidatePayload(req.Payload); err != nil {
			return resolvedRequest{}, invalidArgument(err)
		}
		payload = req.Payload
	}

	maxTries := req.MaxTries
	if maxTries == 0 {
		maxTries = e.config.MaxTries
	}
	if maxTries < 0 {
		return resolvedRequest{}, invalidArgument(fmt.Errorf("max tries must be positive, got %d", maxTries))
	}

	return resolvedRequest{
		direction:      req.Direction,
		resource:       resource,
		payload:        payload,
		device:         req.Device,
		parameters:     req.Parameters.Clone(),
		maxTries:       maxTries,
		attemptTimeout: pickDuration(req.AttemptTimeout, e.config.AttemptTimeout),
		retryDelay:     pickDuration(req.RetryDelay, e.config.RetryDelay),
		graceful:       pickDuration(req.GracefulCancellationTimeout, e.config.GracefulCancellationTimeout),
	}, nil
}

// attemptState is the retry loop's memory across attempts.
type attemptState struct {
	attempt        int
	suspicious     int
	params         connparams.Set
	warnedUnstable bool
}

// transferOne is the retry loop for one resource. The caller holds the guard.
func (e *Engine) transferOne(ctx context.Context, operationID string, req resolvedRequest) ([]byte, error) {
	start := e.timeProvider.Now()
	log := e.logger.WithFields(logrus.Fields{
		"function":     "transferOne",
		"operation_id": operationID,
		"resource":     req.resource,
		"direction":    req.direction.String(),
	})
	log.WithFields(logrus.Fields{
		"payload_size":   len(req.payload),
		"payload_digest": payloadDigest(req.payload),
		"max_tries":      req.maxTries,
		"device":         req.device.String(),
	}).Info("Starting transfer")

	phase := newRetryPhase(req.resource, e.logger)
	e.phase.Store(phase)

	st := &attemptState{params: req.parameters}
	if override, ok := e.selector.ForDevice(req.device, st.params); ok {
		st.params = override
		e.countEscalation(metrics.TriggerDevice)
		e.emitLog(native.LogLevelWarning, req.resource, fmt.Sprintf(
			"Host device '%s' is known to be problematic, resorting to failsafe connection parameters (%s)", req.device, st.params))
	}

	policy := e.newBackOff(req.retryDelay)
	var lastErr error

	for st.attempt = 1; st.attempt <= req.maxTries; st.attempt++ {
		if e.cancellation.isRequested() {
			break
		}
		phase.fire(eventAttempt)

		data, progressEvents, err := e.runAttempt(ctx, req, st)
		if err == nil {
			phase.fire(eventSucceed)
			e.finish(req, metrics.OutcomeSucceeded, start)
			log.WithFields(logrus.Fields{
				"attempt":     st.attempt,
				"data_size":   len(data),
				"data_digest": payloadDigest(data),
			}).Info("Transfer completed")
			return data, nil
		}

		if e.cancellation.isRequested() && !errors.Is(err, ErrCancelled) {
			err = &CancelledError{Resource: req.resource, Reason: e.cancellation.currentReason(), Err: err}
		}

		var fatal *FatalError
		var timeout *TimeoutError
		switch {
		case errors.Is(err, ErrCancelled):
			phase.fire(eventCancel)
			e.finish(req, metrics.OutcomeCancelled, start)
			log.WithField("reason", e.cancellation.currentReason()).Info("Transfer cancelled")
			return nil, err

		case errors.As(err, &fatal) && fatal.Permanent():
			phase.fire(eventFail)
			e.finish(req, metrics.OutcomeNotFound, start)
			log.WithField("error", err.Error()).Error("Transfer failed permanently")
			return nil, err

		case errors.As(err, &fatal):
			lastErr = err
			if progressEvents <= e.config.SuspiciousProgressThreshold {
				st.suspicious++
			}
			log.WithFields(logrus.Fields{
				"attempt":         st.attempt,
				"max_tries":       req.maxTries,
				"progress_events": progressEvents,
				"suspicious":      st.suspicious,
				"error":           err.Error(),
			}).Warn("Transfer attempt failed")

			if st.attempt >= req.maxTries {
				continue
			}
			delay := policy.NextBackOff()
			if delay == backoff.Stop {
				st.attempt = req.maxTries
				continue
			}
			phase.fire(eventRetry)
			if err := e.sleep(ctx, delay); err != nil {
				phase.fire(eventCancel)
				e.finish(req, metrics.OutcomeCancelled, start)
				return nil, &CancelledError{Resource: req.resource, Reason: "context done", Err: err}
			}

		case errors.As(err, &timeout):
			phase.fire(eventFail)
			e.changeState(req.resource, native.StateNone, native.StateError, 0, nil)
			e.finish(req, metrics.OutcomeTimeout, start)
			log.WithField("timeout", req.attemptTimeout).Error("Transfer attempt timed out")
			return nil, err

		case isDomainError(err):
			phase.fire(eventFail)
			e.finish(req, metrics.OutcomeFailed, start)
			log.WithField("error", err.Error()).Error("Transfer failed")
			return nil, err

		default:
			phase.fire(eventFail)
			e.changeState(req.resource, native.StateNone, native.StateError, 0, nil)
			e.finish(req, metrics.OutcomeInternal, start)
			log.WithField("error", err.Error()).Error("Transfer failed with an internal error")
			return nil, &InternalError{Resource: req.resource, Err: err}
		}
	}

	if e.cancellation.isRequested() {
		phase.fire(eventCancel)
		e.finish(req, metrics.OutcomeCancelled, start)
		return nil, &CancelledError{Resource: req.resource, Reason: e.cancellation.currentReason()}
	}

	phase.fire(eventFail)
	e.finish(req, metrics.OutcomeExhausted, start)
	log.WithField("error", fmt.Sprint(lastErr)).Error("All transfer attempts failed")
	return nil, &AllAttemptsFailedError{Resource: req.resource, MaxTries: req.maxTries, Err: lastErr}
}

type attemptResult struct {
	data []byte
	err  error
}

// runAttempt performs one attempt: gate, subscriptions, parameter
// escalation, native call, and the race between outcome, timeout and ctx.
func (e *Engine) runAttempt(ctx context.Context, req resolvedRequest, st *attemptState) ([]byte, int, error) {
	if err := e.awaitGate(ctx, req.resource); err != nil {
		return nil, 0, err
	}

	outcome := make(chan attemptResult, 1)
	deliver := func(r attemptResult) {
		select {
		case outcome <- r:
		default:
		}
	}

	var progressEvents atomic.Int64
	unsubscribers := []func(){
		e.events.completed.subscribe(func(ev CompletedEvent) {
			deliver(attemptResult{data: ev.Data})
		}),
		e.events.fatalError.subscribe(func(ev FatalErrorEvent) {
			deliver(attemptResult{err: &FatalError{Resource: req.resource, Message: ev.Message, Code: ev.Code}})
		}),
		e.events.cancelled.subscribe(func(ev CancelledEvent) {
			deliver(attemptResult{err: &CancelledError{Resource: req.resource, Reason: ev.Reason}})
		}),
		e.events.progress.subscribe(func(ProgressEvent) {
			progressEvents.Add(1)
		}),
		e.events.stateChanged.subscribe(func(ev StateChangedEvent) {
			if ev.NewState == native.StateIdle {
				progressEvents.Store(0)
			}
		}),
	}
	defer func() {
		for _, unsubscribe := range unsubscribers {
			unsubscribe()
		}
		e.callNative("CleanupResourcesOfLastOperation", func() bool {
			e.proxy.CleanupResourcesOfLastOperation()
			return true
		})
	}()

	if override, ok := e.selector.ForInstability(st.attempt, req.maxTries, st.suspicious); ok {
		st.params = connparams.Merge(st.params, override)
		e.countEscalation(metrics.TriggerInstability)
		if !st.warnedUnstable {
			st.warnedUnstable = true
			e.emitLog(native.LogLevelWarning, req.resource, fmt.Sprintf(
				"Attempt #%d of %d: connection looks unstable, resorting to failsafe connection parameters (%s)",
				st.attempt, req.maxTries, st.params))
		}
	}

	if e.recordMetrics {
		metrics.AttemptsTotal.WithLabelValues(req.direction.String()).Inc()
	}
	e.logger.WithFields(logrus.Fields{
		"function":   "runAttempt",
		"resource":   req.resource,
		"attempt":    st.attempt,
		"parameters": st.params.String(),
	}).Debug("Beginning native operation")

	verdict, err := e.beginNative(native.BeginRequest{
		Direction:       req.direction,
		ResourceID:      req.resource,
		Payload:         req.payload,
		Device:          req.device,
		Parameters:      st.params.Clone(),
		MinimumLogLevel: native.LogLevel(e.minLogLevel.Load()),
	})
	if err != nil {
		return nil, 0, err
	}
	if err := verdictError(verdict); err != nil {
		return nil, 0, err
	}

	var timeout <-chan time.Time
	if req.attemptTimeout > 0 {
		timer := time.NewTimer(req.attemptTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-outcome:
		return r.data, int(progressEvents.Load()), r.err
	case <-timeout:
		return nil, int(progressEvents.Load()), &TimeoutError{Resource: req.resource, Timeout: req.attemptTimeout}
	case <-ctx.Done():
		e.cancelForContext(ctx)
		return nil, int(progressEvents.Load()), &CancelledError{Resource: req.resource, Reason: "context done", Err: ctx.Err()}
	}
}

// beginNative calls BeginOperation, turning a panic into an error.
func (e *Engine) beginNative(req native.BeginRequest) (verdict native.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("native begin operation panicked: %v", r)
		}
	}()
	return e.proxy.BeginOperation(req)
}

// awaitGate is the attempt's suspension point. A closed gate is made
// observable as a Paused transition, and its reopening as a Resumed event.
func (e *Engine) awaitGate(ctx context.Context, resource string) error {
	if err := e.checkInterrupted(resource); err != nil {
		return err
	}

	mustPause := !e.gate.isOpen()
	if mustPause {
		e.changeState(resource, native.StateNone, native.StatePaused, 0, nil)
	}

	if err := e.gate.wait(ctx); err != nil {
		e.cancelForContext(ctx)
		return &CancelledError{Resource: resource, Reason: "context done", Err: err}
	}
	if err := e.checkInterrupted(resource); err != nil {
		return err
	}

	if mustPause {
		e.changeState(resource, native.StatePaused, native.StateNone, 0, nil)
		e.events.resumed.emit(ResumedEvent{Resource: resource})
	}
	return nil
}

func (e *Engine) checkInterrupted(resource string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.cancellation.isRequested() {
		return &CancelledError{Resource: resource, Reason: e.cancellation.currentReason()}
	}
	return nil
}

// cancelForContext turns a done context into a best-effort native cancel.
func (e *Engine) cancelForContext(ctx context.Context) {
	reason := "context done"
	if err := ctx.Err(); err != nil {
		reason = err.Error()
	}
	e.cancellation.request(reason)
	e.callNative("TryCancel", func() bool { return e.proxy.TryCancel(reason) })
}

// sleep waits d. A requested cancellation cuts it short without error so the
// loop can report it; a done ctx returns its error.
func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-e.cancellation.done():
		return nil
	case <-ctx.Done():
		e.cancelForContext(ctx)
		return ctx.Err()
	}
}

func (e *Engine) countEscalation(trigger string) {
	if e.recordMetrics {
		metrics.FailsafeEscalationsTotal.WithLabelValues(trigger).Inc()
	}
}

func (e *Engine) finish(req resolvedRequest, outcome string, start time.Time) {
	if !e.recordMetrics {
		return
	}
	direction := req.direction.String()
	metrics.TransfersTotal.WithLabelValues(direction, outcome).Inc()
	metrics.TransferDuration.WithLabelValues(direction, outcome).Observe(e.timeProvider.Since(start).Seconds())
}
