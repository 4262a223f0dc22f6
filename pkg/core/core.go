// Package core holds the types shared across the authentication flows and
// the token cache: the access token returned over the module boundary, the
// provider token payload, and context plumbing for per-attempt logging.
package core

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// AttemptIDKey is a custom context key type for storing the authentication
// attempt ID in context.
type AttemptIDKey struct{}

// WithAttemptID returns a new context with a generated attempt ID set.
// One attempt ID covers one Authenticate call end to end.
func WithAttemptID(ctx context.Context) context.Context {
	return context.WithValue(ctx, AttemptIDKey{}, uuid.New().String())
}

// AttemptIDFromContext retrieves the attempt ID from the context, or an
// empty string if none is set.
func AttemptIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(AttemptIDKey{}).(string)
	return id
}

// LoggerFromCtx returns a slog.Logger with an attempt_id field if present in
// context. If no attempt ID is found, it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if id := AttemptIDFromContext(ctx); id != "" {
		return slog.Default().With("attempt_id", id)
	}
	return slog.Default()
}
