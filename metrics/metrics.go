package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeNotFound  = "not_found"
	OutcomeCancelled = "cancelled"
	OutcomeTimeout   = "timeout"
	OutcomeInternal  = "internal_error"
	OutcomeExhausted = "attempts_exhausted"
)

// Failsafe trigger label values.
const (
	TriggerDevice      = "device"
	TriggerInstability = "instability"
)

var (
	// TransfersTotal counts finished resource transfers by outcome
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcuxfer_transfers_total",
			Help: "Total number of resource transfers by outcome",
		},
		[]string{"direction", "outcome"},
	)

	// AttemptsTotal counts native attempts, including retries
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcuxfer_attempts_total",
			Help: "Total number of native transfer attempts",
		},
		[]string{"direction"},
	)

	// FailsafeEscalationsTotal counts attempts forced onto failsafe parameters
	FailsafeEscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcuxfer_failsafe_escalations_total",
			Help: "Total number of attempts run with failsafe connection parameters",
		},
		[]string{"trigger"},
	)

	// DeathknellsTotal counts cancellations the engine had to force
	DeathknellsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcuxfer_deathknells_total",
			Help: "Total number of cancellations forced after the graceful timeout",
		},
	)

	// TransferDuration tracks wall time per resource transfer, retries included
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcuxfer_transfer_duration_seconds",
			Help:    "Resource transfer duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"direction", "outcome"},
	)

	// OperationsInFlight is 1 while an engine operation holds the exclusivity guard
	OperationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcuxfer_operations_in_flight",
			Help: "Number of engine operations currently running",
		},
	)
)
