package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrConnectionFailed))
	assert.True(t, IsTransient(ErrTimeout))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp 10.0.0.1:6379: %w", ErrConnectionFailed)))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrInvalidInput))
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(ErrCircuitOpen))
	assert.False(t, IsTransient(context.Canceled), "cancellation means the caller gave up")
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("get: %w", ErrNotFound)))
	assert.False(t, IsNotFound(ErrInvalidInput))

	assert.True(t, IsValidation(ErrInvalidInput))
	assert.True(t, IsValidation(ErrInvalidConfiguration))
	assert.False(t, IsValidation(ErrConnectionFailed))

	assert.True(t, IsUnavailable(ErrBackendUnavailable))
	assert.True(t, IsUnavailable(ErrCircuitOpen))
	assert.False(t, IsUnavailable(ErrNotFound))
}

func TestMemoryErrorFormatting(t *testing.T) {
	err := &MemoryError{Op: "store.Get", Kind: "backend", ID: "abc-123", Err: ErrNotFound}
	assert.Equal(t, "store.Get [abc-123]: memory not found", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))

	bare := &MemoryError{Op: "store.Insert", Err: ErrInvalidInput}
	assert.Equal(t, "store.Insert: invalid input", bare.Error())
}
