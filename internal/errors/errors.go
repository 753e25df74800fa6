// Package errors provides structured error types for the dashboard backend.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrUnauthorized = errors.New("not authenticated")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
	ErrUnavailable  = errors.New("service unavailable")
)

// StoreError represents a failed persistent store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with the name of the store operation that produced it.
// Returns nil when err is nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
// SQLite reports contention as SQLITE_BUSY / SQLITE_LOCKED.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		msg := strings.ToLower(storeErr.Err.Error())
		return strings.Contains(msg, "database is locked") ||
			strings.Contains(msg, "sqlite_busy") ||
			strings.Contains(msg, "database table is locked")
	}
	return false
}
