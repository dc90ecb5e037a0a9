package limits

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeResourcePath verifies the canonical remote form
func TestNormalizeResourcePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a/b.bin", "/a/b.bin"},
		{"/a/b.bin", "/a/b.bin"},
		{"  /a/b.bin\t", "/a/b.bin"},
		{`lfs\logs\boot.txt`, "/lfs/logs/boot.txt"},
		{"//lfs///x", "/lfs/x"},
		{"Mixed/Case.BIN", "/Mixed/Case.BIN"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeResourcePath(tt.in))
		})
	}
}

// TestValidateResourcePath verifies every rejection rule
func TestValidateResourcePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want error
	}{
		{"valid", "/lfs/a.bin", nil},
		{"valid relative", "lfs/a.bin", nil},
		{"empty", "", ErrResourcePathEmpty},
		{"blank", "   ", ErrResourcePathEmpty},
		{"newline", "/lfs/a\n.bin", ErrResourcePathControlChars},
		{"nul", "/lfs/a\x00", ErrResourcePathControlChars},
		{"trailing slash", "/lfs/", ErrResourcePathIsDirectory},
		{"trailing backslash", `\lfs\`, ErrResourcePathIsDirectory},
		{"traversal", "/lfs/../etc", ErrDirectoryTraversal},
		{"too long", "/" + strings.Repeat("a", MaxResourcePathLength), ErrResourcePathTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResourcePath(tt.path)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

// TestNormalizeResourcePathsDeduplicates checks first-seen spelling wins
func TestNormalizeResourcePathsDeduplicates(t *testing.T) {
	got, err := NormalizeResourcePaths([]string{"a/b.bin", "/a/b.bin", " A/B.BIN ", "/A/B.BIN", "c.bin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/b.bin", "/c.bin"}, got)

	got, err = NormalizeResourcePaths([]string{"/X.bin", "/x.bin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/X.bin"}, got)
}

// TestNormalizeResourcePathsValidatesEverythingFirst ensures one bad path rejects the batch
func TestNormalizeResourcePathsValidatesEverythingFirst(t *testing.T) {
	got, err := NormalizeResourcePaths([]string{"/ok.bin", "/dir/"})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrResourcePathIsDirectory)
	assert.Contains(t, err.Error(), "resource #1")
}

// TestNormalizeResourcePathsEmpty handles the empty batch
func TestNormalizeResourcePathsEmpty(t *testing.T) {
	got, err := NormalizeResourcePaths(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestCanonicalKey folds case after normalizing
func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, CanonicalKey(" A/B.BIN "), CanonicalKey("/a/b.bin"))
}

// TestValidatePayload covers nil, empty and oversized payloads
func TestValidatePayload(t *testing.T) {
	assert.ErrorIs(t, ValidatePayload(nil), ErrPayloadNil)
	assert.NoError(t, ValidatePayload([]byte{}))
	assert.NoError(t, ValidatePayload([]byte("firmware")))
	assert.ErrorIs(t, ValidatePayload(make([]byte, MaxPayloadSize+1)), ErrPayloadTooLarge)
}
