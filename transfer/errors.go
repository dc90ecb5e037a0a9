package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/mcuxfer/native"
)

var (
	// ErrInvalidArgument indicates a request rejected before any native call.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOperationInProgress indicates the engine is already running an operation.
	ErrOperationInProgress = errors.New("another transfer operation is already in progress")

	// ErrNativeAlreadyInProgress indicates the native layer refused to start
	// because it still runs an earlier operation.
	ErrNativeAlreadyInProgress = errors.New("native layer reports an operation already in progress")

	// ErrNativeInvalidData indicates the native layer rejected the resource or payload.
	ErrNativeInvalidData = errors.New("native layer rejected the transfer data")

	// ErrNativeInvalidSettings indicates the native layer rejected the connection parameters.
	ErrNativeInvalidSettings = errors.New("native layer rejected the connection settings")

	// ErrResourceNotFound indicates the remote resource, or a directory on its
	// path, does not exist. Never retried.
	ErrResourceNotFound = errors.New("remote resource not found")

	// ErrResourceIsDirectory indicates the remote path names a directory. It
	// also matches ErrResourceNotFound.
	ErrResourceIsDirectory = errors.New("remote resource is a directory")

	// ErrUnauthorized indicates the device refused access. Retried like any
	// other transient protocol error.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAllAttemptsFailed indicates the retry budget ran out.
	ErrAllAttemptsFailed = errors.New("all transfer attempts failed")

	// ErrTimeout indicates an attempt outlived its local timeout.
	ErrTimeout = errors.New("transfer attempt timed out")

	// ErrInternal indicates a failure of the native layer itself.
	ErrInternal = errors.New("internal transfer error")

	// ErrCancelled indicates the operation was cancelled.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrClosed indicates the engine has been closed.
	ErrClosed = errors.New("transfer engine closed")
)

// FatalError is a fatal-error advertisement turned into an error. Whether it
// is retried depends on what it unwraps to.
type FatalError struct {
	Resource string
	Message  string
	Code     native.ErrorCode
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("transfer of %q failed with error code %d: %s", e.Resource, int(e.Code), e.Message)
}

// Unwrap exposes the classification sentinels.
func (e *FatalError) Unwrap() []error {
	switch {
	case native.IsDirectory(e.Code):
		return []error{ErrResourceNotFound, ErrResourceIsDirectory}
	case native.IsNotFound(e.Code, e.Message):
		return []error{ErrResourceNotFound}
	case native.IsAccessDenied(e.Code):
		return []error{ErrUnauthorized}
	default:
		return nil
	}
}

// Permanent reports whether retrying cannot help.
func (e *FatalError) Permanent() bool {
	return errors.Is(e, ErrResourceNotFound)
}

// AllAttemptsFailedError wraps the last transient failure of an exhausted
// retry budget.
type AllAttemptsFailedError struct {
	Resource string
	MaxTries int
	Err      error
}

func (e *AllAttemptsFailedError) Error() string {
	return fmt.Sprintf("transfer of %q failed after %d attempt(s): %v", e.Resource, e.MaxTries, e.Err)
}

func (e *AllAttemptsFailedError) Unwrap() []error {
	return []error{ErrAllAttemptsFailed, e.Err}
}

// TimeoutError reports an attempt abandoned by the local per-attempt timeout.
type TimeoutError struct {
	Resource string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transfer of %q timed out after %s", e.Resource, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// InternalError wraps native-layer failures that are not protocol errors:
// native errors, native panics and internal-error verdicts.
type InternalError struct {
	Resource string
	Err      error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("transfer of %q hit an internal error: %v", e.Resource, e.Err)
}

func (e *InternalError) Unwrap() []error {
	return []error{ErrInternal, e.Err}
}

// CancelledError reports a cancelled operation. Err is set when something
// other than TryCancel caused it, e.g. a done context.
type CancelledError struct {
	Resource string
	Reason   string
	Err      error
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transfer of %q was cancelled", e.Resource)
	}
	return fmt.Sprintf("transfer of %q was cancelled: %s", e.Resource, e.Reason)
}

func (e *CancelledError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCancelled}
	}
	return []error{ErrCancelled, e.Err}
}

func invalidArgument(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
}

// verdictError maps a non-success verdict to its local error. Internal-error
// verdicts (and unknown ones) come back as plain errors so the retry loop
// wraps them into an InternalError.
func verdictError(v native.Verdict) error {
	switch v {
	case native.VerdictSuccess:
		return nil
	case native.VerdictFailedInvalidData:
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrNativeInvalidData)
	case native.VerdictFailedInvalidSettings:
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrNativeInvalidSettings)
	case native.VerdictFailedOperationAlreadyInProgress:
		return ErrNativeAlreadyInProgress
	default:
		return fmt.Errorf("native layer returned verdict %s", v)
	}
}

// isDomainError reports whether err is already one of the engine's own
// errors and must be surfaced as is.
func isDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidArgument,
		ErrOperationInProgress,
		ErrNativeAlreadyInProgress,
		ErrClosed,
		ErrCancelled,
		ErrTimeout,
		ErrInternal,
		ErrAllAttemptsFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var fatal *FatalError
	return errors.As(err, &fatal)
}
