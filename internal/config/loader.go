package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "VERIVOX_"

	maxFileBytes = 1 << 20
	systemDir    = "/etc/verivox"
)

// nested lists the sub-sections an environment key may address below its
// top-level section, e.g. VERIVOX_API_RETRY_ENABLED -> api.retry.enabled.
var nested = map[string][]string{
	"api": {"retry"},
}

// LoadWithFile builds the configuration from three layers, later layers
// winning:
//
//  1. built-in defaults
//  2. the YAML file at configPath (default ~/.config/verivox/config.yaml)
//  3. VERIVOX_* environment variables
//
// A missing file is not an error. An existing file must live under
// ~/.config/verivox/ or /etc/verivox/, be mode 0600 or 0400, and be at
// most 1MB.
//
// Environment keys drop the prefix and split the section off at the first
// underscore:
//
//	VERIVOX_API_BASE_URL        -> api.base_url
//	VERIVOX_SCAN_TRAILING_DELAY -> scan.trailing_delay
//	VERIVOX_API_RETRY_ENABLED   -> api.retry.enabled
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	userDir, err := userConfigDir()
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		configPath = filepath.Join(userDir, "config.yaml")
	}
	if err := checkLocation(configPath, userDir, systemDir); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	content, err := readConfigFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := applyDerived(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	for _, sub := range nested[section] {
		if field, found := strings.CutPrefix(rest, sub+"_"); found {
			return section + "." + sub + "." + field
		}
	}
	return section + "." + rest
}

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "verivox"), nil
}

// checkLocation rejects paths that resolve outside the allowed directories.
// Symlinks are followed when the target exists.
func checkLocation(path string, allowed ...string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	for _, dir := range allowed {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/verivox/ or %s/", systemDir)
}

// readConfigFile opens path once and checks mode and size on the open
// descriptor before reading. A missing file yields fs.ErrNotExist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm != 0600 && perm != 0400 {
			return nil, fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileBytes)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
