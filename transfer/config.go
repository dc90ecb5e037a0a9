package transfer

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opd-ai/mcuxfer/connparams"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/sirupsen/logrus"
)

// Engine defaults.
const (
	DefaultMaxTries                    = 10
	DefaultAttemptTimeout              = time.Duration(0)
	DefaultRetryDelay                  = 100 * time.Millisecond
	DefaultItemDelay                   = time.Duration(0)
	DefaultGracefulCancellationTimeout = 2500 * time.Millisecond

	// DefaultSuspiciousProgressThreshold is the number of progress events at
	// or below which a failed attempt counts as suspicious: it died before
	// any real data moved, which points at the link rather than the data.
	DefaultSuspiciousProgressThreshold = 10
)

// Config holds the defaults applied to requests that leave a field at zero.
type Config struct {
	// MaxTries is the attempt budget per resource.
	MaxTries int

	// AttemptTimeout bounds a single attempt. Zero or negative disables it.
	AttemptTimeout time.Duration

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration

	// ItemDelay is the pause between batch items.
	ItemDelay time.Duration

	// GracefulCancellationTimeout is how long the native layer may take to
	// confirm a cancellation after acknowledging it.
	GracefulCancellationTimeout time.Duration

	// ContinueOnError keeps a batch going past failed items.
	ContinueOnError bool

	// MinimumNativeLogLevel drops native log advertisements below it.
	MinimumNativeLogLevel native.LogLevel

	// SuspiciousProgressThreshold, see DefaultSuspiciousProgressThreshold.
	SuspiciousProgressThreshold int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxTries:                    DefaultMaxTries,
		AttemptTimeout:              DefaultAttemptTimeout,
		RetryDelay:                  DefaultRetryDelay,
		ItemDelay:                   DefaultItemDelay,
		GracefulCancellationTimeout: DefaultGracefulCancellationTimeout,
		ContinueOnError:             true,
		MinimumNativeLogLevel:       native.LogLevelError,
		SuspiciousProgressThreshold: DefaultSuspiciousProgressThreshold,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the engine defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithSelector replaces the connection parameter selector.
func WithSelector(sel *connparams.Selector) Option {
	return func(e *Engine) {
		if sel != nil {
			e.selector = sel
		}
	}
}

// WithTimeProvider replaces the clock used for duration bookkeeping.
func WithTimeProvider(tp TimeProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.timeProvider = tp
		}
	}
}

// WithLogger replaces the logger. By default the logrus standard logger is used.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRetryBackOff replaces the inter-retry sleep policy. newPolicy receives
// the effective retry delay of the request and is called once per resource.
// A policy returning backoff.Stop ends the retries early.
func WithRetryBackOff(newPolicy func(delay time.Duration) backoff.BackOff) Option {
	return func(e *Engine) {
		if newPolicy != nil {
			e.newBackOff = newPolicy
		}
	}
}

// WithMetrics toggles Prometheus recording. Enabled by default.
func WithMetrics(enabled bool) Option {
	return func(e *Engine) {
		e.recordMetrics = enabled
	}
}

func constantBackOff(delay time.Duration) backoff.BackOff {
	if delay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	return backoff.NewConstantBackOff(delay)
}

// Request describes one resource transfer. Zero-valued tuning fields fall
// back to the engine's Config; a negative duration disables the delay or
// timeout it configures.
type Request struct {
	Direction native.Direction

	// Resource is the remote path. It is validated and normalized.
	Resource string

	// Payload is required for uploads and ignored for downloads.
	Payload []byte

	Device connparams.Device

	// Parameters are the caller's connection parameters; nil knobs let the
	// native layer choose.
	Parameters connparams.Set

	MaxTries                    int
	AttemptTimeout              time.Duration
	RetryDelay                  time.Duration
	GracefulCancellationTimeout time.Duration
}

// BatchItem is one entry of a batch. Payload is only used for uploads.
type BatchItem struct {
	Resource string
	Payload  []byte
}

// Items builds download batch items from raw paths.
func Items(resources ...string) []BatchItem {
	items := make([]BatchItem, len(resources))
	for i, r := range resources {
		items[i] = BatchItem{Resource: r}
	}
	return items
}

// BatchRequest describes a sequential multi-resource transfer. Items whose
// paths normalize to the same resource (ignoring case) are transferred once:
// the first spelling and the last payload win.
type BatchRequest struct {
	Direction  native.Direction
	Items      []BatchItem
	Device     connparams.Device
	Parameters connparams.Set

	MaxTriesPerItem             int
	AttemptTimeout              time.Duration
	RetryDelay                  time.Duration
	ItemDelay                   time.Duration
	GracefulCancellationTimeout time.Duration

	// StopOnError aborts the batch at the first failed item even when the
	// engine is configured to continue on error.
	StopOnError bool
}

// resolvedRequest is a validated request with every default applied.
type resolvedRequest struct {
	direction      native.Direction
	resource       string
	payload        []byte
	device         connparams.Device
	parameters     connparams.Set
	maxTries       int
	attemptTimeout time.Duration
	retryDelay     time.Duration
	graceful       time.Duration
}

func pickDuration(requested, fallback time.Duration) time.Duration {
	switch {
	case requested < 0:
		return 0
	case requested == 0:
		if fallback < 0 {
			return 0
		}
		return fallback
	default:
		return requested
	}
}
