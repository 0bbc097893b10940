package providers

import "context"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID tags the context so outbound provider calls carry the
// caller's request ID in X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the tagged request ID, or "" when none was set.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
