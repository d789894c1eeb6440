package connection

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const contextKeyConnection contextKey = "metaobjects:connection"

// FromContext retrieves the connection a caller scoped to ctx.
func FromContext(ctx context.Context) (ObjectConnection, bool) {
	c, ok := ctx.Value(contextKeyConnection).(ObjectConnection)
	return c, ok
}

// WithContext returns a new context carrying c. Operations given this context
// reuse c instead of acquiring their own connection.
func WithContext(ctx context.Context, c ObjectConnection) context.Context {
	return context.WithValue(ctx, contextKeyConnection, c)
}
