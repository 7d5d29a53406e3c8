package console

import "context"

type ctxKey string

const ctxKeyRequestID ctxKey = "console_request_id"

// WithRequestID stores a correlation id that is sent as X-Request-ID on API calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the correlation id.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}
