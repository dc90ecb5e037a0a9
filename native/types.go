package native

import "fmt"

// State is the lifecycle state of a single resource transfer as reported by
// the native layer.
type State uint8

const (
	// StateNone means no operation is associated with the resource.
	StateNone State = iota
	// StateIdle means the operation was accepted but no bytes moved yet.
	StateIdle
	// StateInProgress means bytes are moving.
	StateInProgress
	// StatePaused means the operation is suspended.
	StatePaused
	// StateResuming means a paused operation is being restarted.
	StateResuming
	// StateError means the operation failed.
	StateError
	// StateCancelling means a cancellation request is being honored.
	StateCancelling
	// StateCancelled means the operation was cancelled.
	StateCancelled
	// StateComplete means the operation finished successfully.
	StateComplete
)

var stateNames = map[State]string{
	StateNone:       "None",
	StateIdle:       "Idle",
	StateInProgress: "InProgress",
	StatePaused:     "Paused",
	StateResuming:   "Resuming",
	StateError:      "Error",
	StateCancelling: "Cancelling",
	StateCancelled:  "Cancelled",
	StateComplete:   "Complete",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsTerminal reports whether no further progress can happen from s without a
// new operation.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// Verdict is the synchronous answer of BeginOperation.
type Verdict uint8

const (
	// VerdictSuccess means the operation was accepted and is running.
	VerdictSuccess Verdict = iota
	// VerdictFailedInvalidData means the payload or resource was rejected.
	VerdictFailedInvalidData
	// VerdictFailedInvalidSettings means the connection parameters were rejected.
	VerdictFailedInvalidSettings
	// VerdictFailedInternalError means the native layer broke.
	VerdictFailedInternalError
	// VerdictFailedOperationAlreadyInProgress means another operation is still running natively.
	VerdictFailedOperationAlreadyInProgress
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "Success"
	case VerdictFailedInvalidData:
		return "FailedInvalidData"
	case VerdictFailedInvalidSettings:
		return "FailedInvalidSettings"
	case VerdictFailedInternalError:
		return "FailedInternalError"
	case VerdictFailedOperationAlreadyInProgress:
		return "FailedOperationAlreadyInProgress"
	default:
		return fmt.Sprintf("Verdict(%d)", uint8(v))
	}
}

// Direction tells the native layer which way the bytes flow.
type Direction uint8

const (
	// DirectionUpload writes a payload to the remote resource.
	DirectionUpload Direction = iota
	// DirectionDownload reads the remote resource.
	DirectionDownload
)

func (d Direction) String() string {
	if d == DirectionDownload {
		return "download"
	}
	return "upload"
}

// LogLevel is the severity of a native log advertisement.
type LogLevel uint8

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelVerbose
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelVerbose:
		return "verbose"
	case LogLevelInfo:
		return "info"
	case LogLevelWarning:
		return "warning"
	case LogLevelError:
		return "error"
	default:
		return fmt.Sprintf("LogLevel(%d)", uint8(l))
	}
}

// ParseLogLevel maps a level name (as produced by String) back to a LogLevel.
func ParseLogLevel(name string) (LogLevel, error) {
	for l := LogLevelTrace; l <= LogLevelError; l++ {
		if l.String() == name {
			return l, nil
		}
	}
	if name == "warn" {
		return LogLevelWarning, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}
