// Package telemetry sets up OpenTelemetry for verivox: OTLP trace and metric
// export over gRPC or HTTP, and an optional log provider that the logging
// package bridges zap records into.
//
// Telemetry is off by default. A disabled or nil *Telemetry hands out the
// global no-op providers, so instrumented code never branches on it.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Tests use NewTestTelemetry, which records everything in memory.
package telemetry
