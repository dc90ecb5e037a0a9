package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/mcuxfer/limits"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/sirupsen/logrus"
)

// Outcome is the result of one batch item. Data is nil for failed items and
// for uploads.
type Outcome struct {
	Data []byte
	Err  error
}

// BatchResult collects the outcomes of a batch.
type BatchResult struct {
	// Resources lists the unique normalized resources in processing order.
	Resources []string

	// Outcomes maps each processed resource to its outcome. Resources not
	// reached because the batch stopped early are absent.
	Outcomes map[string]Outcome

	// Failed lists the resources that failed, in processing order.
	Failed []string

	byKey map[string]string
}

func newBatchResult(resources []string) *BatchResult {
	r := &BatchResult{
		Resources: resources,
		Outcomes:  make(map[string]Outcome, len(resources)),
		byKey:     make(map[string]string, len(resources)),
	}
	for _, res := range resources {
		r.byKey[limits.CanonicalKey(res)] = res
	}
	return r
}

// Lookup finds the outcome of a resource by any spelling that normalizes to it.
func (r *BatchResult) Lookup(resource string) (Outcome, bool) {
	normalized, ok := r.byKey[limits.CanonicalKey(resource)]
	if !ok {
		return Outcome{}, false
	}
	o, ok := r.Outcomes[normalized]
	return o, ok
}

// Data returns resource to data for every processed resource; failed
// resources map to nil.
func (r *BatchResult) Data() map[string][]byte {
	out := make(map[string][]byte, len(r.Outcomes))
	for res, o := range r.Outcomes {
		out[res] = o.Data
	}
	return out
}

func (r *BatchResult) record(resource string, data []byte, err error) {
	r.Outcomes[resource] = Outcome{Data: data, Err: err}
	if err != nil {
		r.Failed = append(r.Failed, resource)
	}
}

// TransferMany transfers every unique resource of the batch, one after the
// other. All items are validated before anything is sent. When the engine
// continues on error, per-resource failures are recorded and the batch goes
// on; cancellations, internal errors and a closed engine always stop it.
// On a stopped batch the partial result is returned along with the error.
func (e *Engine) TransferMany(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	items, err := e.resolveBatch(req)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"function": "TransferMany",
			"items":    len(req.Items),
			"error":    err.Error(),
		}).Error("Batch request rejected")
		return nil, err
	}

	resources := make([]string, len(items))
	for i, item := range items {
		resources[i] = item.resource
	}
	result := newBatchResult(resources)
	if len(items) == 0 {
		return result, nil
	}

	release, err := e.acquireOperation()
	if err != nil {
		return nil, err
	}
	defer release()

	operationID := uuid.NewString()
	e.beginOperation(items[0].graceful)
	defer e.endOperation()

	continueOnError := e.config.ContinueOnError && !req.StopOnError
	itemDelay := pickDuration(req.ItemDelay, e.config.ItemDelay)
	log := e.logger.WithFields(logrus.Fields{
		"function":     "TransferMany",
		"operation_id": operationID,
		"direction":    req.Direction.String(),
	})
	log.WithFields(logrus.Fields{
		"requested": len(req.Items),
		"unique":    len(items),
	}).Info("Starting batch transfer")

	for i, item := range items {
		data, err := e.transferOne(ctx, operationID, item)
		if err != nil {
			if !continueOnError || !isPerResourceFailure(err) {
				result.record(item.resource, nil, err)
				log.WithFields(logrus.Fields{
					"resource": item.resource,
					"error":    err.Error(),
				}).Error("Batch transfer stopped")
				return result, err
			}
			log.WithFields(logrus.Fields{
				"resource": item.resource,
				"error":    err.Error(),
			}).Warn("Batch item failed, continuing")
		}
		result.record(item.resource, data, err)

		if i < len(items)-1 {
			if err := e.sleep(ctx, itemDelay); err != nil {
				return result, &CancelledError{Resource: item.resource, Reason: "context done", Err: err}
			}
		}
	}

	log.WithFields(logrus.Fields{
		"succeeded": len(items) - len(result.Failed),
		"failed":    len(result.Failed),
	}).Info("Batch transfer finished")
	return result, nil
}

// resolveBatch validates every item, then collapses items that normalize to
// the same resource: the first spelling and the last payload win.
func (e *Engine) resolveBatch(req BatchRequest) ([]resolvedRequest, error) {
	if err := req.Device.Validate(); err != nil {
		return nil, invalidArgument(err)
	}
	if err := req.Parameters.Validate(); err != nil {
		return nil, invalidArgument(err)
	}

	maxTries := req.MaxTriesPerItem
	if maxTries == 0 {
		maxTries = e.config.MaxTries
	}
	if maxTries < 0 {
		return nil, invalidArgument(fmt.Errorf("max tries per item must be positive, got %d", maxTries))
	}

	for i, item := range req.Items {
		if err := limits.ValidateResourcePath(item.Resource); err != nil {
			return nil, invalidArgument(fmt.Errorf("item #%d: %w", i, err))
		}
		if req.Direction == native.DirectionUpload {
			if err := limits.ValidatePayload(item.Payload); err != nil {
				return nil, invalidArgument(fmt.Errorf("item #%d (%s): %w", i, item.Resource, err))
			}
		}
	}

	index := make(map[string]int, len(req.Items))
	items := make([]resolvedRequest, 0, len(req.Items))
	for _, item := range req.Items {
		key := limits.CanonicalKey(item.Resource)
		var payload []byte
		if req.Direction == native.DirectionUpload {
			payload = item.Payload
		}

		if at, dup := index[key]; dup {
			items[at].payload = payload
			continue
		}
		index[key] = len(items)
		items = append(items, resolvedRequest{
			direction:      req.Direction,
			resource:       limits.NormalizeResourcePath(item.Resource),
			payload:        payload,
			device:         req.Device,
			parameters:     req.Parameters.Clone(),
			maxTries:       maxTries,
			attemptTimeout: pickDuration(req.AttemptTimeout, e.config.AttemptTimeout),
			retryDelay:     pickDuration(req.RetryDelay, e.config.RetryDelay),
			graceful:       pickDuration(req.GracefulCancellationTimeout, e.config.GracefulCancellationTimeout),
		})
	}
	return items, nil
}

// isPerResourceFailure reports whether err concerns only the item that
// produced it, so a batch may move on to the next one.
func isPerResourceFailure(err error) bool {
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrClosed) || errors.Is(err, ErrInternal) || errors.Is(err, ErrNativeAlreadyInProgress) {
		return false
	}
	var fatal *FatalError
	return errors.As(err, &fatal) ||
		errors.Is(err, ErrAllAttemptsFailed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrInvalidArgument)
}
