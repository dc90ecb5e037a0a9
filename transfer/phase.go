package transfer

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// Retry phases of a single resource transfer.
const (
	PhaseIdle              = "idle"
	PhaseAttempting        = "attempting"
	PhaseRetrying          = "retrying"
	PhaseSucceeded         = "succeeded"
	PhaseFailedPermanently = "failed_permanently"
	PhaseCancelled         = "cancelled"
)

const (
	eventAttempt = "attempt"
	eventRetry   = "retry"
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventCancel  = "cancel"
)

// retryPhase is the retry loop's own state machine, driven by the loop and
// exposed through Engine.Phase.
type retryPhase struct {
	resource string
	machine  *fsm.FSM
	logger   *logrus.Entry
}

func newRetryPhase(resource string, logger *logrus.Logger) *retryPhase {
	entry := logger.WithFields(logrus.Fields{
		"function": "retryPhase",
		"resource": resource,
	})

	p := &retryPhase{resource: resource, logger: entry}
	p.machine = fsm.NewFSM(
		PhaseIdle,
		fsm.Events{
			{Name: eventAttempt, Src: []string{PhaseIdle, PhaseRetrying}, Dst: PhaseAttempting},
			{Name: eventRetry, Src: []string{PhaseAttempting}, Dst: PhaseRetrying},
			{Name: eventSucceed, Src: []string{PhaseAttempting}, Dst: PhaseSucceeded},
			{Name: eventFail, Src: []string{PhaseIdle, PhaseAttempting, PhaseRetrying}, Dst: PhaseFailedPermanently},
			{Name: eventCancel, Src: []string{PhaseIdle, PhaseAttempting, PhaseRetrying}, Dst: PhaseCancelled},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				entry.WithFields(logrus.Fields{
					"from": e.Src,
					"to":   e.Dst,
				}).Debug("Retry phase changed")
			},
		},
	)
	return p
}

// fire moves the machine. An invalid event is a bug in the loop; it is
// logged rather than surfaced.
func (p *retryPhase) fire(event string) {
	if err := p.machine.Event(context.Background(), event); err != nil {
		p.logger.WithFields(logrus.Fields{
			"event":   event,
			"current": p.machine.Current(),
			"error":   err.Error(),
		}).Warn("Rejected retry phase event")
	}
}

func (p *retryPhase) current() string {
	return p.machine.Current()
}
