// Package config loads the agent's YAML configuration and watches it for changes.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvAuthorityURL = "APPGUARD_AUTHORITY_URL"
	EnvLogLevel     = "APPGUARD_LOG_LEVEL"
	EnvControlAddr  = "APPGUARD_CONTROL_ADDR"
)

// DefaultControlAddr is the loopback address of the local control server.
const DefaultControlAddr = "127.0.0.1:47615"

// Duration is a time.Duration that reads and writes as "90s", "5m" etc.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the agent configuration.
type Config struct {
	AuthorityURL      string   `yaml:"authority_url"`
	SyncInterval      Duration `yaml:"sync_interval"`
	ScanInterval      Duration `yaml:"scan_interval"`
	CredentialBackoff Duration `yaml:"credential_backoff"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"` // 0 disables heartbeats
	RequestTimeout    Duration `yaml:"request_timeout"`
	ControlAddr       string   `yaml:"control_addr"`
	MetricsEnabled    bool     `yaml:"metrics_enabled"`
	CachePath         string   `yaml:"cache_path"` // empty = per-user default
	DataDir           string   `yaml:"data_dir"`   // empty = per-user default
	LogLevel          string   `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SyncInterval:      Duration(5 * time.Minute),
		ScanInterval:      Duration(60 * time.Second),
		CredentialBackoff: Duration(10 * time.Second),
		HeartbeatInterval: Duration(5 * time.Minute),
		RequestTimeout:    Duration(15 * time.Second),
		ControlAddr:       DefaultControlAddr,
		MetricsEnabled:    true,
		LogLevel:          "info",
	}
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAuthorityURL); v != "" {
		c.AuthorityURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvControlAddr); v != "" {
		c.ControlAddr = v
	}
}

// Validate checks the fields the daemon needs to run.
func (c *Config) Validate() error {
	var errs []error

	if c.AuthorityURL == "" {
		errs = append(errs, errors.New("authority_url is required"))
	} else if u, err := url.Parse(c.AuthorityURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("authority_url must be an http(s) URL: %q", c.AuthorityURL))
	}

	positive := []struct {
		name string
		val  Duration
	}{
		{"sync_interval", c.SyncInterval},
		{"scan_interval", c.ScanInterval},
		{"credential_backoff", c.CredentialBackoff},
		{"request_timeout", c.RequestTimeout},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if c.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("heartbeat_interval must not be negative"))
	}

	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// RestartRequired lists the fields that differ between old and updated
// and are only read at startup.
func RestartRequired(old, updated *Config) []string {
	if old == nil || updated == nil {
		return nil
	}
	var changed []string
	if old.RequestTimeout != updated.RequestTimeout {
		changed = append(changed, "request_timeout")
	}
	if old.ControlAddr != updated.ControlAddr {
		changed = append(changed, "control_addr")
	}
	if old.MetricsEnabled != updated.MetricsEnabled {
		changed = append(changed, "metrics_enabled")
	}
	if old.CachePath != updated.CachePath {
		changed = append(changed, "cache_path")
	}
	if old.DataDir != updated.DataDir {
		changed = append(changed, "data_dir")
	}
	return changed
}

// Loader reads a config file and remembers its content hash so the
// watcher can ignore events that did not change anything.
type Loader struct {
	path     string
	lastHash string
}

// NewLoader creates a loader for path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads the file merged over Default() and applies env overrides.
// A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.lastHash = ""
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", l.path, err)
		}
		l.lastHash = hashBytes(data)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// HasChanged reports whether the file content differs from the last Load.
func (l *Loader) HasChanged() (bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return false, err
	}
	return hashBytes(data) != l.lastHash, nil
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Dir returns the directory containing the config file.
func (l *Loader) Dir() string {
	return filepath.Dir(l.path)
}

// Load is a convenience for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
