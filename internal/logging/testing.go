package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry in memory for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a logger that observes all levels, trace included.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, observed: observed}
}

func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset discards everything recorded so far.
func (t *TestLogger) Reset() { t.observed.TakeAll() }

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("no %v entry containing %q in %d entries", level, msg, t.observed.Len())
}

// AssertNoSecrets fails tb if any message or string field holds a bearer
// header or JWT, or if a sensitive key carries an unmasked value. Observed
// entries bypass the redacting encoder, so this checks what callers pass in.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	enc := newRedactingEncoder(nil, defaultSensitiveKeys)
	for _, e := range t.observed.All() {
		if _, hit := scrub(e.Message); hit {
			tb.Errorf("credential in message %q", e.Message)
		}
		for k, v := range e.ContextMap() {
			s, ok := v.(string)
			if !ok || s == "" {
				continue
			}
			if enc.sensitive(k) && !strings.HasPrefix(s, masked[:len(masked)-1]) {
				tb.Errorf("sensitive field %q logged in clear in %q", k, e.Message)
			}
			if _, hit := scrub(s); hit {
				tb.Errorf("credential in field %q of %q", k, e.Message)
			}
		}
	}
}
