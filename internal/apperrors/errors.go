// Package apperrors defines the error-kind taxonomy shared by every
// component: the webhook ingester, the flow interpreter, the broadcast
// dispatcher, and the operator API all classify failures through it so
// that a single place maps a kind to an HTTP status or a retry policy.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories in the platform's propagation policy.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuth         Kind = "auth"
	KindNotFound     Kind = "not-found"
	KindConflict     Kind = "conflict"
	KindTenantClosed Kind = "tenant-closed"
	KindProvider     Kind = "provider"
	KindTransient    Kind = "transient"
	KindInternal     Kind = "internal"
)

// Error wraps an underlying cause with a Kind and an optional tenant id so
// every layer can log and route consistently.
type Error struct {
	Kind     Kind
	Message  string
	TenantID string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithTenant returns a copy of e scoped to tenantID, for logging.
func (e *Error) WithTenant(tenantID string) *Error {
	cp := *e
	cp.TenantID = tenantID
	return &cp
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// does not wrap an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// --- Retry classification, grounded on the same Retryable/Fatal split the
// event-processor teacher uses to decide whether a NATS message gets
// redelivered; here it decides whether the provider client or an external
// webhook forward gets retried with backoff. ---

// RetryableError marks a failure that a caller should retry.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// NewRetryable wraps err as retryable.
func NewRetryable(err error, message string) error {
	return &RetryableError{Err: fmt.Errorf("%s: %w", message, err)}
}

// IsRetryable reports whether err is or wraps a RetryableError.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// Sentinel causes used with errors.Is across store and client layers.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrDuplicate     = errors.New("duplicate resource")
	ErrTenantClosed  = errors.New("tenant subscription closed")
	ErrNoTenant      = errors.New("no matching tenant for inbound envelope")
	ErrBadSignature  = errors.New("invalid webhook signature")
	ErrStepCapHit    = errors.New("flow step cap exceeded")
	ErrSessionExists = errors.New("session already exists for contact")
)
