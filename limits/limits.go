package limits

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	// MaxResourcePathLength bounds a normalized remote path in bytes.
	// Zephyr's LittleFS builds cap names well below this.
	MaxResourcePathLength = 1024

	// MaxPayloadSize is the absolute maximum upload payload (64MB). Larger
	// images don't fit any supported device's flash.
	MaxPayloadSize = 64 * 1024 * 1024

	// PathSeparator is the only separator remote file systems understand.
	PathSeparator = "/"
)

var (
	// ErrResourcePathEmpty indicates a blank resource path.
	ErrResourcePathEmpty = errors.New("resource path is empty")

	// ErrResourcePathControlChars indicates control characters in a resource path.
	ErrResourcePathControlChars = errors.New("resource path contains control characters")

	// ErrResourcePathIsDirectory indicates a path ending with a separator.
	ErrResourcePathIsDirectory = errors.New("resource path points to a directory")

	// ErrResourcePathTooLong indicates a path over MaxResourcePathLength.
	ErrResourcePathTooLong = errors.New("resource path too long")

	// ErrDirectoryTraversal indicates a ".." segment in a resource path.
	ErrDirectoryTraversal = errors.New("resource path contains directory traversal")

	// ErrPayloadNil indicates an upload without a payload.
	ErrPayloadNil = errors.New("payload is nil")

	// ErrPayloadTooLarge indicates a payload over MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidateResourcePath checks a caller-supplied remote path. It does not
// require the path to be normalized.
func ValidateResourcePath(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ErrResourcePathEmpty
	}
	if strings.IndexFunc(trimmed, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %q", ErrResourcePathControlChars, path)
	}
	if strings.HasSuffix(trimmed, "/") || strings.HasSuffix(trimmed, `\`) {
		return fmt.Errorf("%w: %q", ErrResourcePathIsDirectory, path)
	}

	normalized := NormalizeResourcePath(trimmed)
	for _, segment := range strings.Split(normalized, PathSeparator) {
		if segment == ".." {
			return fmt.Errorf("%w: %q", ErrDirectoryTraversal, path)
		}
	}
	if len(normalized) > MaxResourcePathLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrResourcePathTooLong, len(normalized), MaxResourcePathLength)
	}
	return nil
}

// NormalizeResourcePath converts a path to the canonical remote form. It does
// not validate; call ValidateResourcePath first.
func NormalizeResourcePath(path string) string {
	p := strings.ReplaceAll(strings.TrimSpace(path), `\`, PathSeparator)
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", PathSeparator)
	}
	if !strings.HasPrefix(p, PathSeparator) {
		p = PathSeparator + p
	}
	return p
}

// CanonicalKey returns the case-folded normalized form used to detect
// duplicates on case-insensitive remote file systems.
func CanonicalKey(path string) string {
	return strings.ToLower(NormalizeResourcePath(path))
}

// ValidateAndNormalizeResourcePath validates path and returns its normalized form.
func ValidateAndNormalizeResourcePath(path string) (string, error) {
	if err := ValidateResourcePath(path); err != nil {
		return "", err
	}
	return NormalizeResourcePath(path), nil
}

// NormalizeResourcePaths validates every path before normalizing any, then
// returns the normalized paths with case-insensitive duplicates removed.
// The first spelling seen wins and input order is preserved.
func NormalizeResourcePaths(paths []string) ([]string, error) {
	for i, p := range paths {
		if err := ValidateResourcePath(p); err != nil {
			return nil, fmt.Errorf("resource #%d: %w", i, err)
		}
	}

	seen := make(map[string]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		normalized := NormalizeResourcePath(p)
		key := strings.ToLower(normalized)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, normalized)
	}
	return unique, nil
}

// ValidatePayload checks an upload payload. Empty payloads are allowed;
// they truncate the remote resource.
func ValidatePayload(payload []byte) error {
	if payload == nil {
		return ErrPayloadNil
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return nil
}
