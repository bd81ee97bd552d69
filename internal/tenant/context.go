// Package tenant carries the active tenant and request identity through a
// context.Context so every store query and outbound call can be scoped
// without threading extra parameters everywhere.
package tenant

import (
	"context"
	"errors"
)

type contextKey string

const (
	idKey        contextKey = "tenantID"
	requestIDKey contextKey = "requestID"
)

// ErrNoTenantInContext is returned when no tenant id has been attached.
var ErrNoTenantInContext = errors.New("no tenant id found in context")

// WithID attaches a tenant id to ctx.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, idKey, tenantID)
}

// FromContext extracts the tenant id from ctx.
func FromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(idKey).(string)
	if !ok || id == "" {
		return "", ErrNoTenantInContext
	}
	return id, nil
}

// MustFromContext extracts the tenant id or panics; only safe where a
// preceding middleware or constructor already guarantees it is set.
func MustFromContext(ctx context.Context) string {
	id, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return id
}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}
