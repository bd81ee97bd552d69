package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfAndIs(t *testing.T) {
	err := New(KindConflict, "duplicate provider message id")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, KindConflict))
	assert.False(t, Is(err, KindNotFound))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindInternal, cause, "insert message")

	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "boom")
	assert.Contains(t, wrapped.Error(), "insert message")
}

func TestWithTenantCopiesWithoutMutatingOriginal(t *testing.T) {
	original := New(KindNotFound, "broadcast not found")
	scoped := original.WithTenant("tenant-1")

	assert.Equal(t, "tenant-1", scoped.TenantID)
	assert.Empty(t, original.TenantID)
}

func TestIsRetryable(t *testing.T) {
	plain := errors.New("network reset")
	retryable := NewRetryable(plain, "send message")

	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRetryable(plain))
	assert.ErrorIs(t, retryable, plain)

	wrappedFurther := fmt.Errorf("outer: %w", retryable)
	assert.True(t, IsRetryable(wrappedFurther))
}

func TestSentinelsDistinguishableByErrorsIs(t *testing.T) {
	wrapped := Wrap(KindNotFound, ErrNotFound, "load broadcast")
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.False(t, errors.Is(wrapped, ErrDuplicate))
}
