// Package requestctx carries per-request values between middleware and
// handlers.
package requestctx

import (
	"context"
	"time"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	requestTimeKey
	subjectKey
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithRequestTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}

func RequestTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(requestTimeKey).(time.Time)
	return t
}

// WithSubject records the authenticated API caller.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}
