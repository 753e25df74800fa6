// Package requestid assigns and propagates per-request identifiers.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying the request ID in both directions.
const Header = "X-Request-ID"

// LocalsKey is the fiber Locals key under which the ID is stored.
const LocalsKey = "request_id"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or "" if none was set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Resolve keeps a client-supplied ID when it is a well-formed UUID and
// otherwise mints a new one. Arbitrary strings are never echoed back.
func Resolve(incoming string) string {
	if incoming != "" {
		if parsed, err := uuid.Parse(incoming); err == nil {
			return parsed.String()
		}
	}
	return uuid.NewString()
}
