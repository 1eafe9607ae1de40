package core

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Input/validation errors - never retried
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Lookup errors - never retried
	ErrNotFound = errors.New("memory not found")

	// Transient backend errors - retried by the connection guard
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("operation timeout")

	// Terminal availability errors surfaced to callers
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Schema verification outcome (reported, not thrown on normal paths)
	ErrSchemaIncomplete = errors.New("schema incomplete")
)

// MemoryError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type MemoryError struct {
	Op   string // Operation that failed (e.g., "store.Insert")
	Kind string // Error kind (e.g., "backend", "validation", "schema")
	ID   string // Optional memory id involved
	Err  error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *MemoryError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError
func NewMemoryError(op, kind string, err error) *MemoryError {
	return &MemoryError{Op: op, Kind: kind, Err: err}
}

// IsTransient checks if an error is a transient backend failure worth retrying.
// Context cancellation is deliberately excluded: the caller gave up.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is caused by caller-supplied data
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// IsUnavailable checks if an error is a terminal availability failure:
// either retries exhausted or the circuit breaker rejected the call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrCircuitOpen)
}
