// Package config provides configuration loading for verivox.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then VERIVOX_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the complete verivox configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Session   SessionConfig   `koanf:"session"`
	Scan      ScanConfig      `koanf:"scan"`
	Download  DownloadConfig  `koanf:"download"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Stub      StubConfig      `koanf:"stub"`
}

// APIConfig holds settings for the detection backend client.
type APIConfig struct {
	BaseURL   string      `koanf:"base_url"`
	Timeout   Duration    `koanf:"timeout"`
	RateLimit float64     `koanf:"rate_limit"` // requests per second
	Burst     int         `koanf:"burst"`
	Retry     RetryConfig `koanf:"retry"`
}

// RetryConfig controls retries of idempotent reads after network failures.
type RetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	InitialInterval Duration `koanf:"initial_interval"`
	MaxElapsed      Duration `koanf:"max_elapsed"`
}

// SessionConfig controls where the signed-in identity is persisted.
type SessionConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// ScanConfig controls staging limits and the scan progress sequence.
type ScanConfig struct {
	PhaseInterval Duration `koanf:"phase_interval"`
	TrailingDelay Duration `koanf:"trailing_delay"`
	MaxUploadMB   int      `koanf:"max_upload_mb"` // 0 = no client-side limit
}

// MaxUploadBytes returns the staging limit in bytes, or 0 for none.
func (s ScanConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// DownloadConfig controls where report PDFs are written.
type DownloadConfig struct {
	Dir string `koanf:"dir"`
}

// LogConfig holds logger settings. The file sink is the default because the
// terminal UI owns stdout.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
	Stdout bool   `koanf:"stdout"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// StubConfig holds settings for the local stand-in backend.
type StubConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	Secret      Secret   `koanf:"secret"` // HMAC key for issued tokens; random when unset
	TokenTTL    Duration `koanf:"token_ttl"`
	MaxUploadMB int      `koanf:"max_upload_mb"`
}

// defaultYAML is loaded before the user's file so that boolean defaults
// of true survive an absent key.
const defaultYAML = `
api:
  base_url: http://127.0.0.1:8000
  timeout: 60s
  rate_limit: 5
  burst: 10
  retry:
    enabled: true
    initial_interval: 500ms
    max_elapsed: 10s
session:
  dir: ~/.config/verivox
  watch: true
scan:
  phase_interval: 1200ms
  trailing_delay: 2s
  max_upload_mb: 100
download:
  dir: .
log:
  level: info
  format: json
  stdout: false
telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
  insecure: true
  service_name: verivox
stub:
  host: 127.0.0.1
  port: 8000
  token_ttl: 30m
  max_upload_mb: 100
`

// Validate validates the configuration.
//
// Returns an error if:
//   - the API base URL is not an absolute http(s) URL
//   - the API timeout is not positive
//   - the rate limit or burst is negative
//   - a scan duration is negative
//   - the log format is not json or console
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid api base url: %q (must be http(s)://host[:port])", c.API.BaseURL)
	}

	if c.API.Timeout.Duration() <= 0 {
		return errors.New("api timeout must be positive")
	}

	if c.API.RateLimit < 0 || c.API.Burst < 0 {
		return errors.New("api rate_limit and burst must not be negative")
	}

	if c.API.Retry.Enabled && c.API.Retry.InitialInterval.Duration() <= 0 {
		return errors.New("api retry initial_interval must be positive when retry is enabled")
	}

	if c.Scan.PhaseInterval.Duration() < 0 || c.Scan.TrailingDelay.Duration() < 0 {
		return errors.New("scan durations must not be negative")
	}

	if c.Scan.MaxUploadMB < 0 {
		return errors.New("scan max_upload_mb must not be negative")
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format)
	}

	if c.Stub.Port < 0 || c.Stub.Port > 65535 {
		return fmt.Errorf("stub port out of range: %d", c.Stub.Port)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint required when telemetry is enabled")
	}

	return nil
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Config) BaseURL() string {
	return strings.TrimRight(c.API.BaseURL, "/")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// applyDerived fills values that depend on other settings.
func applyDerived(cfg *Config) error {
	dir, err := ExpandHome(cfg.Session.Dir)
	if err != nil {
		return err
	}
	cfg.Session.Dir = dir

	if cfg.Log.File == "" && !cfg.Log.Stdout {
		cfg.Log.File = filepath.Join(dir, "verivox.log")
	}
	if cfg.Log.File != "" {
		if cfg.Log.File, err = ExpandHome(cfg.Log.File); err != nil {
			return err
		}
	}

	if cfg.Download.Dir, err = ExpandHome(cfg.Download.Dir); err != nil {
		return err
	}

	return nil
}
