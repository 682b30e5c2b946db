package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := NewNotFoundError("update", "r-1")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestError_Message(t *testing.T) {
	err := NewValidationError("save", "invalid record", map[string]string{
		"title":    "is required",
		"priority": "must be at most 4",
	})
	assert.Equal(t, "save: ValidationError: invalid record (priority must be at most 4; title is required)", err.Error())

	cause := errors.New("disk I/O error")
	wrapped := &Error{Code: CodeStorageUnavailable, Op: "list", Err: cause}
	assert.Equal(t, "list: StorageUnavailable: disk I/O error", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestUnavailable(t *testing.T) {
	assert.NoError(t, Unavailable("save", nil))

	cause := errors.New("database is locked")
	err := Unavailable("save", cause)
	assert.True(t, IsStorageUnavailable(err))
	assert.ErrorIs(t, err, cause)

	// Already-coded errors pass through untouched
	nf := NewNotFoundError("update", "x")
	assert.Same(t, nf, Unavailable("update", nf))

	// Expired contexts become Timeout
	assert.True(t, IsTimeout(Unavailable("list", context.DeadlineExceeded)))
}

func TestCodeOf_NonStorageError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestNewQuotaError(t *testing.T) {
	err := NewQuotaError("save", 2048, 1024, nil)
	require.True(t, IsQuotaExceeded(err))
	assert.Contains(t, err.Error(), "2048")
	assert.Contains(t, err.Error(), "1024")
}
