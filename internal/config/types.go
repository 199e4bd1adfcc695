package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that can be read from YAML and environment
// variables. Values use Go duration syntax ("1.2s", "500ms"); a bare integer
// is read as milliseconds, which is how the scan phase timings are usually
// written.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}

	var parsed time.Duration
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		parsed = time.Duration(ms) * time.Millisecond
	} else {
		parsed, err = time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

const redacted = "[REDACTED]"

// Secret holds key material (the stub server's signing key) that must not
// leak through fmt, JSON or YAML output. Only Value and Bytes expose it.
type Secret string

func (s Secret) mask() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string   { return s.mask() }
func (s Secret) GoString() string { return "Secret(" + redacted + ")" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.mask()) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.mask()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool { return s != "" }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// Bytes returns a copy of the raw secret, suitable as an HMAC key.
func (s Secret) Bytes() []byte { return []byte(s) }
