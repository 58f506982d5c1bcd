package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Auth            AuthConfig            `yaml:"auth"`
	Worker          WorkerConfig          `yaml:"worker"`
	Log             LogConfig             `yaml:"log"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Cascade         CascadeConfig         `yaml:"cascade"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	DeleteBurst     int      `yaml:"delete_burst"`
	DeleteRefill    Duration `yaml:"delete_refill"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	SnapshotInterval       Duration `yaml:"snapshot_interval"`
	SnapshotUploadAttempts int      `yaml:"snapshot_upload_attempts"`
	ChangelogPruneInterval Duration `yaml:"changelog_prune_interval"`
	ChangelogRetention     Duration `yaml:"changelog_retention"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SnapshotStorageConfig contains S3-compatible snapshot storage settings.
// An empty Bucket keeps snapshots on local disk only.
type SnapshotStorageConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	Prefix    string   `yaml:"prefix"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// CascadeConfig contains cascade engine settings.
type CascadeConfig struct {
	// ReferenceTimezone is the IANA zone in which "the current year" is read.
	ReferenceTimezone string `yaml:"reference_timezone"`
}

// Location loads the configured reference time zone.
func (c CascadeConfig) Location() (*time.Location, error) {
	if c.ReferenceTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ReferenceTimezone)
	if err != nil {
		return nil, fmt.Errorf("cascade reference timezone %q: %w", c.ReferenceTimezone, err)
	}
	return loc, nil
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("STRATA_CONFIG_PATH", "config/strata.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadLocal loads configuration like Load but does not require an API key.
// Commands that open the database directly use it.
func LoadLocal() (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, getEnv("STRATA_CONFIG_PATH", "config/strata.yaml")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.validateLocal(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit config paths.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			DeleteBurst:     100,
			DeleteRefill:    Duration(100 * time.Millisecond),
		},
		Database: DatabaseConfig{
			Path: "data/strata.db",
		},
		Worker: WorkerConfig{
			SnapshotInterval:       Duration(1 * time.Hour),
			SnapshotUploadAttempts: 5,
			ChangelogPruneInterval: Duration(24 * time.Hour),
			ChangelogRetention:     Duration(90 * 24 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		SnapshotStorage: SnapshotStorageConfig{
			Prefix:    "strata",
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
		Cascade: CascadeConfig{
			ReferenceTimezone: "UTC",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("STRATA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("STRATA_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("STRATA_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("STRATA_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("STRATA_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STRATA_SNAPSHOT_DIR"); v != "" {
		cfg.Database.SnapshotDir = v
	}

	// Auth
	if v := os.Getenv("STRATA_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Worker
	envDuration("STRATA_SNAPSHOT_INTERVAL", &cfg.Worker.SnapshotInterval)
	if v := os.Getenv("STRATA_SNAPSHOT_UPLOAD_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.SnapshotUploadAttempts = n
		}
	}
	envDuration("STRATA_CHANGELOG_PRUNE_INTERVAL", &cfg.Worker.ChangelogPruneInterval)
	envDuration("STRATA_CHANGELOG_RETENTION", &cfg.Worker.ChangelogRetention)

	// Log
	if v := os.Getenv("STRATA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STRATA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Snapshot storage
	if v := os.Getenv("STRATA_SNAPSHOT_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("STRATA_SNAPSHOT_PREFIX"); v != "" {
		cfg.SnapshotStorage.Prefix = v
	}
	if v := os.Getenv("STRATA_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("STRATA_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("STRATA_S3_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("STRATA_S3_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
	if v := os.Getenv("STRATA_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &useSSL
	}
	envDuration("STRATA_S3_URL_EXPIRY", &cfg.SnapshotStorage.URLExpiry)

	// Cascade
	if v := os.Getenv("STRATA_REFERENCE_TIMEZONE"); v != "" {
		cfg.Cascade.ReferenceTimezone = v
	}
}

// envDuration overrides *d when key holds a parseable duration.
func envDuration(key string, d *Duration) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*d = Duration(parsed)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (STRATA_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if err := c.validateLocal(); err != nil {
		return err
	}

	// Dev mode bypasses API key validation
	if os.Getenv("STRATA_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("STRATA_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateLocal checks everything except credentials.
func (c *Config) validateLocal() error {
	if _, err := c.Cascade.Location(); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log format %q: must be json or text", c.Log.Format)
	}
	return nil
}
