// ABOUTME: YAML configuration for calmirror stored at an XDG config path
// ABOUTME: Loads .env and environment overrides, fills defaults, and saves atomically with 0600 perms
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName names the XDG directories.
const AppName = "calmirror"

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// SyncConfig tunes sync passes.
type SyncConfig struct {
	PageSize       int64         `yaml:"page_size"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	PastDays       int           `yaml:"past_days"`
	FutureDays     int           `yaml:"future_days"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// CacheConfig tunes the event cache writer.
type CacheConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	BatchPause  time.Duration `yaml:"batch_pause"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Config is the top-level application configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
	// Listen is the HTTP listen address for the API server.
	Listen string `yaml:"listen"`
	// User is the default user id for the CLI and MCP tools.
	User string `yaml:"user"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Google GoogleConfig `yaml:"google"`
	Sync   SyncConfig   `yaml:"sync"`
	Cache  CacheConfig  `yaml:"cache"`
}

// DefaultPath returns the config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultDBPath returns the database file location.
func DefaultDBPath() string {
	return filepath.Join(xdg.DataHome, AppName, "calmirror.db")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing or invalid values with defaults.
func (c *Config) Normalize() {
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath()
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.User == "" {
		c.User = "default"
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}

	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = "http://localhost:8080/oauth/callback"
	}

	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 2500 {
		c.Sync.PageSize = 250
	}
	if c.Sync.CallTimeout <= 0 {
		c.Sync.CallTimeout = 20 * time.Second
	}
	if c.Sync.PastDays <= 0 {
		c.Sync.PastDays = 30
	}
	if c.Sync.FutureDays <= 0 {
		c.Sync.FutureDays = 60
	}
	if c.Sync.MaxConcurrency <= 0 {
		c.Sync.MaxConcurrency = 4
	}

	if c.Cache.BatchSize <= 0 {
		c.Cache.BatchSize = 10
	}
	if c.Cache.BatchPause <= 0 {
		c.Cache.BatchPause = 50 * time.Millisecond
	}
	if c.Cache.MaxAttempts <= 0 {
		c.Cache.MaxAttempts = 3
	}
	if c.Cache.BaseDelay <= 0 {
		c.Cache.BaseDelay = 100 * time.Millisecond
	}
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	overrides := map[string]*string{
		"GOOGLE_CLIENT_ID":     &c.Google.ClientID,
		"GOOGLE_CLIENT_SECRET": &c.Google.ClientSecret,
		"CALMIRROR_DB_PATH":    &c.DBPath,
		"CALMIRROR_LISTEN":     &c.Listen,
		"CALMIRROR_USER":       &c.User,
		"CALMIRROR_LOG_LEVEL":  &c.LogLevel,
	}
	for key, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*field = v
		}
	}
}

// Load reads the YAML file at path, applies .env and environment
// overrides, and normalizes. A missing file yields defaults and is not
// written; use Save for that.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg to path via a temp file and rename, with 0600 perms.
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

	tmp, err := os.CreateTemp(dir, ".calmirror-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
