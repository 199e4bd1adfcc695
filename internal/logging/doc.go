// Package logging is verivox's structured logger: zap underneath, a
// context argument on every call, and redaction of credentials on the way
// out.
//
// The terminal UI owns stdout, so interactive runs write JSON lines to a
// file in the session directory. One-shot commands and the stub server can
// log to stdout instead, and records can also be bridged to OpenTelemetry.
//
//	cfg, err := logging.FromConfig(appCfg.Log)
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Close()
//
//	ctx = logging.WithRequestID(ctx, reqID)
//	logger.Info(ctx, "api call", zap.String("path", "/api/detect"))
//
// Tests use NewTestLogger and its AssertLogged and AssertNoSecrets helpers.
package logging
