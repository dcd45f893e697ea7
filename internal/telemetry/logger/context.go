package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey contextKey = "meshkv.logger"
	opIDKey   contextKey = "meshkv.op_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context, falling back to
// slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithOpID tags the context with a persistence operation id.
func WithOpID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, opIDKey, id)
}

// OpIDFromContext returns the operation id, or "".
func OpIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(opIDKey).(string); ok {
		return id
	}
	return ""
}

// L returns the context logger enriched with the operation id.
func L(ctx context.Context) *slog.Logger {
	l := FromContext(ctx)
	if id := OpIDFromContext(ctx); id != "" {
		l = l.With("op_id", id)
	}
	return l
}
