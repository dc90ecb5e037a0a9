package native

import "github.com/opd-ai/mcuxfer/connparams"

// BeginRequest carries everything the native layer needs to start one
// attempt of a transfer.
type BeginRequest struct {
	Direction Direction

	// ResourceID is the normalized remote path.
	ResourceID string

	// Payload is the data to write. Nil for downloads.
	Payload []byte

	// Device identifies the host device driving the link.
	Device connparams.Device

	// Parameters are the connection parameters for this attempt.
	Parameters connparams.Set

	// MinimumLogLevel filters native log advertisements at the source.
	MinimumLogLevel LogLevel
}

// IProxy is the engine's handle on the native layer. Every method must
// return promptly; long-running work is reported through ICallbacks.
type IProxy interface {
	// Bind installs the advertisement sink. It is called once, before any
	// other method.
	Bind(callbacks ICallbacks)

	// BeginOperation starts one attempt. A returned error means the native
	// layer itself failed (not the transfer).
	BeginOperation(req BeginRequest) (Verdict, error)

	// TryPause asks the running operation to suspend.
	TryPause() bool

	// TryResume asks a suspended operation to continue.
	TryResume() bool

	// TryCancel asks the running operation to stop. The native layer
	// acknowledges with CancellingAdvertisement and confirms with
	// CancelledAdvertisement; either may never come.
	TryCancel(reason string) bool

	// Disconnect tears down the link.
	Disconnect() bool

	// CleanupResourcesOfLastOperation releases whatever the last attempt
	// left behind. Called after every attempt, successful or not.
	CleanupResourcesOfLastOperation()

	// LastFatalErrorMessage returns the message of the most recent fatal error.
	LastFatalErrorMessage() string

	// Close releases the native layer for good.
	Close() error
}

// ICallbacks receives advertisements from the native layer. Implementations
// must be safe for concurrent use.
type ICallbacks interface {
	StateChangedAdvertisement(resourceID string, oldState, newState State, totalBytes int64, data []byte)
	ProgressAdvertisement(resourceID string, percentage int, currentThroughputKBps, averageThroughputKBps float32)
	FatalErrorAdvertisement(resourceID, message string, code ErrorCode)
	CancellingAdvertisement(reason string)
	CancelledAdvertisement(reason string)
	BusyStateChangedAdvertisement(busy bool)
	LogAdvertisement(message, category string, level LogLevel, resourceID string)
}
