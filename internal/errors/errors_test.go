package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreError_Error(t *testing.T) {
	err := NewStoreError("archive_chats", errors.New("disk I/O error"))
	assert.Contains(t, err.Error(), "archive_chats")
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestStoreError_Unwrap(t *testing.T) {
	inner := errors.New("no such table: usage")
	err := NewStoreError("archive_usage", inner)
	assert.ErrorIs(t, err, inner)

	var storeErr *StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "archive_usage", storeErr.Op)
}

func TestNewStoreError_Nil(t *testing.T) {
	assert.NoError(t, NewStoreError("noop", nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewStoreError("x", errors.New("database is locked (5) (SQLITE_BUSY)"))))
	assert.True(t, IsRetryable(ErrUnavailable))
	assert.True(t, IsRetryable(ErrRateLimited))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(NewStoreError("x", errors.New("no such table"))))
	assert.False(t, IsRetryable(ErrUnauthorized))
	assert.False(t, IsRetryable(ErrInvalidInput))
}

func TestSentinelErrors(t *testing.T) {
	assert.True(t, errors.Is(ErrRateLimited, ErrRateLimited))
	assert.False(t, errors.Is(ErrRateLimited, ErrUnauthorized))
}
