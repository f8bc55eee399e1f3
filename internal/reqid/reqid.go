// Package reqid carries a correlation id through a context without touching
// every function signature along the way. The debug server uses it to tag
// each HTTP request with a single id that appears in that request's log line
// and X-Request-ID response header; probe and chunk-request attempts are not
// tagged with it.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

// key is an unexported type to avoid collisions with other packages' context values.
type key struct{}

// With returns a new context carrying id.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key{}, id)
}

// WithNew attaches a freshly generated UUIDv4 correlation id and returns both
// the new context and the id, so callers can also pass it to a sibling
// structured-log call without re-extracting it from the context.
func WithNew(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return With(ctx, id), id
}

// From extracts the correlation id from the context, if present.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v := ctx.Value(key{})
	if v == nil {
		return "", false
	}
	if s, ok := v.(string); ok && s != "" {
		return s, true
	}
	return "", false
}
