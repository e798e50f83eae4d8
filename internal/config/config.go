package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// CacheDir is where the cached snapshot and refresh metadata live.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// SourceBase is the base URL of the remote calendar site. The
	// per-category paths are fixed; only the base is configurable so
	// tests and mirrors can redirect collection.
	SourceBase string `yaml:"source_base" json:"source_base"`

	// RefreshCron is a cron-style schedule string (e.g. "0 6 * * *")
	// used to trigger periodic non-forced refreshes.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// RefreshIntervalHours is the due-ness interval: a non-forced refresh
	// only runs when at least this much time has passed since the last
	// successful fetch.
	RefreshIntervalHours int `yaml:"refresh_interval_hours" json:"refresh_interval_hours"`

	// AutoRefresh enables scheduled refreshing. Forced refreshes work
	// regardless. Nil means enabled; a pointer is used so an explicit
	// "false" in the file survives normalization.
	AutoRefresh *bool `yaml:"auto_refresh,omitempty" json:"auto_refresh,omitempty"`

	// CollectTimeoutSeconds bounds each per-category collection.
	CollectTimeoutSeconds int `yaml:"collect_timeout_seconds" json:"collect_timeout_seconds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                "127.0.0.1:8080",
		CacheDir:              "./var/cache",
		SourceBase:            "https://www.webcal.fi/cal",
		RefreshCron:           "0 6 * * *",
		RefreshIntervalHours:  24,
		AutoRefresh:           nil,
		CollectTimeoutSeconds: 15,
		BasicAuth:             nil,
	}
}

// RefreshInterval returns the due-ness interval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalHours) * time.Hour
}

// AutoRefreshEnabled reports whether scheduled refreshing is on.
func (c *Config) AutoRefreshEnabled() bool {
	return c.AutoRefresh == nil || *c.AutoRefresh
}

// CollectTimeout returns the per-category collection timeout as a duration.
func (c *Config) CollectTimeout() time.Duration {
	return time.Duration(c.CollectTimeoutSeconds) * time.Second
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/cache"
	}
	if c.SourceBase == "" {
		c.SourceBase = "https://www.webcal.fi/cal"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 6 * * *"
	}
	if c.RefreshIntervalHours <= 0 {
		c.RefreshIntervalHours = 24
	}
	if c.CollectTimeoutSeconds <= 0 {
		c.CollectTimeoutSeconds = 15
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".daycal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}
