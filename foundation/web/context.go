package web

import (
	"context"
	"errors"
	"time"
)

// ctxKey is an unexported type to avoid collisions with context keys
// defined in other packages.
type ctxKey int

const key ctxKey = 1

// Values carries request-scoped values set by the Logger middleware and
// read by handlers and the Errors middleware.
type Values struct {
	TraceID    string
	Now        time.Time
	StatusCode int
}

// SetValues stores v in ctx under this package's key.
func SetValues(ctx context.Context, v *Values) context.Context {
	return context.WithValue(ctx, key, v)
}

// GetValues returns the Values stored in ctx by the Logger middleware, or
// an error if none are present (a handler invoked outside the normal
// middleware chain, most likely in a test).
func GetValues(ctx context.Context) (*Values, error) {
	v, ok := ctx.Value(key).(*Values)
	if !ok {
		return nil, errors.New("web value missing from context")
	}
	return v, nil
}
