package logger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID builds "{key}-{unixNano}" for one instrument evaluation.
func GenerateTraceID(key string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", key, ts.UnixNano())
}

// FromContext returns l with the context's trace ID attached, or l unchanged.
func FromContext(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	if tid := TraceID(ctx); tid != "" {
		return l.With("trace_id", tid)
	}
	return l
}
