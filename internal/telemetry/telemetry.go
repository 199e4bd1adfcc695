package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the trace, metric and log providers for one process.
// A nil or disabled Telemetry hands out the global no-op providers.
type Telemetry struct {
	cfg *Config

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
	lp log.LoggerProvider

	// degraded holds the first exporter setup failure, if any.
	degraded error
}

// New starts exporters for an enabled cfg and installs them as the global
// providers. An exporter that fails to start leaves the instance degraded
// rather than failing; only an invalid cfg is an error.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)
	var errs []error

	if tp, err := newTraceProvider(ctx, cfg, res); err != nil {
		errs = append(errs, err)
	} else {
		t.tp = tp
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricInterval > 0 {
		if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
			errs = append(errs, err)
		} else {
			t.mp = mp
			otel.SetMeterProvider(mp)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	t.degraded = errors.Join(errs...)
	return t, nil
}

func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tp == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tp.Tracer(name, opts...)
}

func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.mp == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.mp.Meter(name, opts...)
}

// LoggerProvider returns the provider log records are bridged to, or nil.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.lp
}

// IsEnabled reports whether telemetry is switched on and came up without
// exporter failures.
func (t *Telemetry) IsEnabled() bool {
	return t != nil && t.cfg != nil && t.cfg.Enabled && t.degraded == nil
}

// Degraded returns the exporter setup failure, or nil.
func (t *Telemetry) Degraded() error {
	if t == nil {
		return nil
	}
	return t.degraded
}

// Shutdown flushes and stops the providers. Without a deadline on ctx the
// configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.cfg != nil && t.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if t.tp != nil {
		if err := t.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.mp != nil {
		if err := t.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	t.tp, t.mp = nil, nil
	return errors.Join(errs...)
}
