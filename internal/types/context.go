package types

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	eventIDKey   contextKey = "event_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithEventID stores the provider event id being processed.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDKey, id)
}

// GetEventID returns the provider event id, or "" outside event processing.
func GetEventID(ctx context.Context) string {
	id, _ := ctx.Value(eventIDKey).(string)
	return id
}
