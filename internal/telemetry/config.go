package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/verivox/internal/config"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config selects the OTLP collector and what is sent to it.
type Config struct {
	Enabled        bool
	Endpoint       string // host:port; an http(s):// prefix is tolerated
	Protocol       string
	Insecure       bool
	ServiceName    string
	ServiceVersion string

	SampleRate      float64
	MetricInterval  time.Duration // 0 disables metric export
	ShutdownTimeout time.Duration
}

// FromConfig maps the application's telemetry section onto a Config.
// version is reported as service.version.
func FromConfig(tc config.TelemetryConfig, version string) *Config {
	cfg := &Config{
		Enabled:         tc.Enabled,
		Endpoint:        tc.Endpoint,
		Protocol:        tc.Protocol,
		Insecure:        tc.Insecure,
		ServiceName:     tc.ServiceName,
		ServiceVersion:  version,
		SampleRate:      1,
		MetricInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolGRPC
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "verivox"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	return cfg
}

// Validate only inspects an enabled config.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Endpoint == "":
		return errors.New("endpoint is required when telemetry is enabled")
	case c.ServiceName == "":
		return errors.New("service_name is required when telemetry is enabled")
	case c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP:
		return fmt.Errorf("protocol must be %s or %s, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	case c.Insecure && !isLoopback(c.Endpoint):
		return errors.New("insecure export is only allowed to a loopback collector; set insecure=false to use TLS")
	case c.SampleRate < 0 || c.SampleRate > 1:
		return fmt.Errorf("sample rate must be between 0 and 1, got %g", c.SampleRate)
	case c.MetricInterval < 0:
		return errors.New("metric interval must not be negative")
	case c.ShutdownTimeout <= 0:
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

func hostPort(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}

func isLoopback(endpoint string) bool {
	host := hostPort(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
