// Package config handles loading and validating ratd.yaml configuration
// plus the environment-variable overlays documented for each subsystem.
// ratd runs with zero config (sensible defaults); ratd.yaml only needs to
// exist to override them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level ratd.yaml configuration.
type Config struct {
	DataPath string       `yaml:"data_path"`
	Queue    QueueConfig  `yaml:"queue"`
	Backup   BackupConfig `yaml:"backup"`
}

// QueueConfig controls the queue engine's default lease and retry policy.
type QueueConfig struct {
	TTLSeconds  int `yaml:"ttl_seconds"`
	MaxAttempts int `yaml:"max_attempts"`
}

// BackupConfig controls the scheduled full-archive job.
type BackupConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	S3Prefix string `yaml:"s3_prefix"`
}

// Default queue lease/retry policy, overridable via QUEUE_TTL_SECONDS and
// QUEUE_MAX_ATTEMPTS.
const (
	DefaultQueueTTLSeconds  = 30
	DefaultQueueMaxAttempts = 3
)

// DefaultConfig returns the zero-config defaults.
func DefaultConfig() *Config {
	return &Config{
		DataPath: "/var/lib/ratd",
		Queue: QueueConfig{
			TTLSeconds:  DefaultQueueTTLSeconds,
			MaxAttempts: DefaultQueueMaxAttempts,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Cron:     "0 3 * * *",
			S3Prefix: "backups",
		},
	}
}

// Load parses a ratd.yaml file and validates it.
// If path is empty, returns zero-config defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: RATD_CONFIG env var > ./ratd.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("RATD_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("ratd.yaml"); err == nil {
		return "ratd.yaml"
	}
	return ""
}

// validate checks required fields and sane ranges.
func (c *Config) validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}
	if c.Queue.TTLSeconds <= 0 {
		return fmt.Errorf("queue.ttl_seconds must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive")
	}
	if c.Backup.Enabled && c.Backup.Cron == "" {
		return fmt.Errorf("backup.cron is required when backup.enabled is true")
	}
	return nil
}

// EnvInt reads an integer from an environment variable, returning
// defaultVal if unset or invalid. Shared with internal/postgres's
// connection-pool env parsing convention.
func EnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// EnvDuration reads a Go duration from an environment variable, returning
// defaultVal if unset or invalid.
func EnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// EnvString reads a string from an environment variable, returning
// defaultVal if unset.
func EnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
