package logging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/verivox/internal/config"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and carries wire detail such as request
// headers and upload sizes.
const TraceLevel = zapcore.DebugLevel - 1

// Config describes one logger: its level, encoding and sinks.
type Config struct {
	Level  zapcore.Level
	Format string // json or console

	Stdout bool
	File   string
	OTEL   bool // bridge records to the telemetry log provider

	// Fields are attached to every record.
	Fields map[string]string

	// SensitiveKeys name fields whose values are always masked.
	SensitiveKeys []string
}

// defaultSensitiveKeys covers the credential material verivox handles:
// account passwords, bearer tokens and the stub's signing key.
var defaultSensitiveKeys = []string{
	"password", "token", "access_token", "authorization",
	"bearer", "credential", "secret",
}

// FromConfig maps the application's log section onto a logger config.
func FromConfig(lc config.LogConfig) (*Config, error) {
	level, err := parseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format := lc.Format
	if format == "" {
		format = "json"
	}
	return &Config{
		Level:         level,
		Format:        format,
		Stdout:        lc.Stdout,
		File:          lc.File,
		Fields:        map[string]string{"service": "verivox"},
		SensitiveKeys: defaultSensitiveKeys,
	}, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return zapcore.InfoLevel, nil
	case "trace":
		return TraceLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// Validate reports the first problem with c.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Stdout && c.File == "" && !c.OTEL {
		return errors.New("at least one output must be enabled (stdout, file or otel)")
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("static field %q must have a key and a value", k)
		}
	}
	return nil
}
