// Package logger provides the structured logging contract used across mds.
package logger

import (
	"context"
)

// Logger defines the interface for structured logging.
// All log methods accept a message string followed by key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger carrying the given key-value pairs.
	With(args ...any) Logger

	// WithContext returns a child logger tagged with the request ID found in ctx.
	WithContext(ctx context.Context) Logger
}

type contextKey string

// RequestIDContextKey is the key under which the request ID is stored, both
// in context.Context and in router contexts.
const RequestIDContextKey = "request_id"

const requestIDKey contextKey = RequestIDContextKey

// ContextWithRequestID stores a request ID for later retrieval by WithContext.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request ID stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                 {}
func (nopLogger) Info(string, ...any)                  {}
func (nopLogger) Warn(string, ...any)                  {}
func (nopLogger) Error(string, ...any)                 {}
func (n nopLogger) With(...any) Logger                 { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
