package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ctxField is both the context key and the emitted field name.
type ctxField string

const (
	sessionField ctxField = "session.fp"
	requestField ctxField = "request.id"
)

var ctxFields = []ctxField{sessionField, requestField}

// WithSession tags ctx with a session fingerprint. Pass the short
// fingerprint, never the credential.
func WithSession(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, sessionField, fingerprint)
}

// WithRequestID tags ctx with the id sent as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestField, id)
}

// ContextFields returns the correlation fields carried by ctx, including the
// active span's trace and span ids.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
	}
	for _, k := range ctxFields {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return fields
}
