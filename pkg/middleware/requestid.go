// Package middleware provides the request-scoped correlation id helpers
// shared by the HTTP layer and the processing pipeline.
//
// This package lives in pkg/ (not internal/) so that embedding services can
// read the id from a context in their own middleware.
package middleware

import (
	"context"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id in and out.
const RequestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// AssignRequestID returns the inbound value verbatim when non-empty,
// otherwise a fresh UUIDv4.
func AssignRequestID(inbound string) string {
	if inbound != "" {
		return inbound
	}
	return uuid.NewString()
}

// SetRequestID stores the correlation id in the context.
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID extracts the correlation id from the context.
// Returns "unknown" if none is set.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
