package native

import (
	"fmt"
	"strings"
)

// ErrorCode is the error code carried by a fatal-error advertisement. The
// small values are the generic SMP codes; the 9000 range belongs to the
// file-system group.
type ErrorCode int

const (
	ErrorCodeUnset        ErrorCode = -99
	ErrorCodeGeneric      ErrorCode = -1
	ErrorCodeOK           ErrorCode = 0
	ErrorCodeUnknown      ErrorCode = 1
	ErrorCodeNoMemory     ErrorCode = 2
	ErrorCodeInValue      ErrorCode = 3
	ErrorCodeTimeout      ErrorCode = 4
	ErrorCodeNoEntry      ErrorCode = 5
	ErrorCodeBadState     ErrorCode = 6
	ErrorCodeTooLarge     ErrorCode = 7
	ErrorCodeNotSupported ErrorCode = 8
	ErrorCodeCorrupt      ErrorCode = 9
	ErrorCodeBusy         ErrorCode = 10
	ErrorCodeAccessDenied ErrorCode = 11

	ErrorCodeFilesystemUnknown         ErrorCode = 9001
	ErrorCodeFilesystemInvalidName     ErrorCode = 9002
	ErrorCodeFilesystemNotFound        ErrorCode = 9003
	ErrorCodeFilesystemIsDirectory     ErrorCode = 9004
	ErrorCodeFilesystemOpenFailed      ErrorCode = 9005
	ErrorCodeFilesystemSeekFailed      ErrorCode = 9006
	ErrorCodeFilesystemReadFailed      ErrorCode = 9007
	ErrorCodeFilesystemTruncateFailed  ErrorCode = 9008
	ErrorCodeFilesystemDeleteFailed    ErrorCode = 9009
	ErrorCodeFilesystemWriteFailed     ErrorCode = 9010
	ErrorCodeFilesystemOffsetNotValid  ErrorCode = 9011
	ErrorCodeFilesystemOffsetLarger    ErrorCode = 9012
	ErrorCodeFilesystemChecksumMissing ErrorCode = 9013
	ErrorCodeFilesystemMountFailed     ErrorCode = 9014
)

func (c ErrorCode) String() string {
	return fmt.Sprintf("%d", int(c))
}

// noEntryMarkers are the message fragments older firmware uses to report a
// missing resource without setting a file-system error code.
var noEntryMarkers = []string{"NO ENTRY (5)", "NO_ENTRY (5)"}

// IsNotFound reports whether a fatal error means the remote resource (or a
// directory on its path) does not exist.
func IsNotFound(code ErrorCode, message string) bool {
	if code == ErrorCodeFilesystemNotFound || code == ErrorCodeNoEntry {
		return true
	}
	upper := strings.ToUpper(message)
	for _, marker := range noEntryMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// IsDirectory reports whether a fatal error means the resource path names a
// directory.
func IsDirectory(code ErrorCode) bool {
	return code == ErrorCodeFilesystemIsDirectory
}

// IsAccessDenied reports whether the device refused the operation for lack
// of authorization.
func IsAccessDenied(code ErrorCode) bool {
	return code == ErrorCodeAccessDenied
}
