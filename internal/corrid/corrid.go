// Package corrid attaches a correlation id to a context so logs for one
// admin HTTP request can be grepped together. It replaces the teacher's
// requestid package. Only the HTTP middleware sets an id; task
// executions run without one.
package corrid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random correlation id.
func New() string {
	return uuid.NewString()
}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the correlation id from ctx, or "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
