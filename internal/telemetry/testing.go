package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry keeps spans, metrics and bridged log records in memory.
type TestTelemetry struct {
	*Telemetry

	spans   *tracetest.SpanRecorder
	metrics *sdkmetric.ManualReader
	logs    *logRecorder
}

// NewTestTelemetry returns an enabled Telemetry backed by in-memory
// recorders. It does not touch the global providers.
func NewTestTelemetry() *TestTelemetry {
	spans := tracetest.NewSpanRecorder()
	metrics := sdkmetric.NewManualReader()
	logs := &logRecorder{}

	cfg := &Config{
		Enabled:         true,
		Endpoint:        "localhost:4317",
		Protocol:        ProtocolGRPC,
		Insecure:        true,
		ServiceName:     "verivox",
		ServiceVersion:  "test",
		SampleRate:      1,
		ShutdownTimeout: time.Second,
	}
	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg: cfg,
			tp:  sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
			mp:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(metrics)),
			lp:  logs,
		},
		spans:   spans,
		metrics: metrics,
		logs:    logs,
	}
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, s := range t.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) != nil {
		return
	}
	var names []string
	for _, s := range t.spans.Ended() {
		names = append(names, s.Name())
	}
	tb.Errorf("span %q not recorded; have %v", name, names)
}

// AssertSpanAttribute compares a span attribute against want, which must be
// a string, int64, float64 or bool.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, span, key string, want any) {
	tb.Helper()
	s := t.SpanByName(span)
	if s == nil {
		tb.Fatalf("span %q not recorded", span)
	}
	for _, kv := range s.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		if got := kv.Value.AsInterface(); got != want {
			tb.Errorf("span %q attribute %q = %v, want %v", span, key, got, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", span, key)
}

func (t *TestTelemetry) collect(ctx context.Context, name string, visit func(metricdata.Aggregation)) {
	var rm metricdata.ResourceMetrics
	if err := t.metrics.Collect(ctx, &rm); err != nil {
		return
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				visit(m.Data)
			}
		}
	}
}

// Int64Sum totals the named int64 counter across attribute sets.
func (t *TestTelemetry) Int64Sum(ctx context.Context, name string) int64 {
	var total int64
	t.collect(ctx, name, func(a metricdata.Aggregation) {
		if sum, ok := a.(metricdata.Sum[int64]); ok {
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	})
	return total
}

// HistogramCount returns the number of observations in the named float64
// histogram.
func (t *TestTelemetry) HistogramCount(ctx context.Context, name string) uint64 {
	var total uint64
	t.collect(ctx, name, func(a metricdata.Aggregation) {
		if h, ok := a.(metricdata.Histogram[float64]); ok {
			for _, dp := range h.DataPoints {
				total += dp.Count
			}
		}
	})
	return total
}

// LogBodies returns the bodies of the log records bridged so far.
func (t *TestTelemetry) LogBodies() []string {
	t.logs.mu.Lock()
	defer t.logs.mu.Unlock()
	out := make([]string, len(t.logs.records))
	for i, r := range t.logs.records {
		out[i] = r.Body().AsString()
	}
	return out
}

type logRecorder struct {
	embedded.LoggerProvider

	mu      sync.Mutex
	records []log.Record
}

func (r *logRecorder) Logger(string, ...log.LoggerOption) log.Logger {
	return &recordingLogger{rec: r}
}

type recordingLogger struct {
	embedded.Logger
	rec *logRecorder
}

func (l *recordingLogger) Emit(_ context.Context, record log.Record) {
	l.rec.mu.Lock()
	l.rec.records = append(l.rec.records, record.Clone())
	l.rec.mu.Unlock()
}

func (l *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool { return true }
