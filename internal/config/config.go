// Package config handles configuration loading and validation for restitch.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/restitch/restitch/pkg/bytesize"
)

// StorageConfig holds the filesystem layout of the service.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`   // Spool directory holding chunks/ and deadletter/ (default: /var/lib/restitch)
	OutputDir string `yaml:"output_dir"` // Artifact output directory (default: <data_dir>/files)
}

// ExpiryConfig controls when stale chunk entries move to the dead-letter
// area.
type ExpiryConfig struct {
	MaxAge        string `yaml:"max_age"`        // Duration string, e.g. "12h"
	SweepInterval string `yaml:"sweep_interval"` // Optional background sweep period; empty disables the worker
}

// CleanupConfig controls retirement of consumed chunk entries.
type CleanupConfig struct {
	RetryDelay string `yaml:"retry_delay"` // Pause before the single deletion retry (default: "100ms")
}

// LokiConfig controls optional log shipping to a Loki endpoint.
type LokiConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`            // Loki base URL, e.g. "http://localhost:3100"
	BatchSize     int    `yaml:"batch_size"`     // Entries per push (default: 100)
	FlushInterval string `yaml:"flush_interval"` // Push period (default: "5s")
}

// Config holds the full service configuration.
type Config struct {
	Listen      string        `yaml:"listen"`
	LogLevel    string        `yaml:"log_level"`
	AuthToken   string        `yaml:"auth_token"`    // Static bearer token; empty disables token auth
	JWTSecret   string        `yaml:"jwt_secret"`    // HS256 secret for device JWTs; empty disables JWT auth
	MaxBodySize string        `yaml:"max_body_size"` // Request body limit, e.g. "8MB"
	Storage     StorageConfig `yaml:"storage"`
	Expiry      ExpiryConfig  `yaml:"expiry"`
	Cleanup     CleanupConfig `yaml:"cleanup"`
	Loki        LokiConfig    `yaml:"loki"`

	// Resolved by Validate.
	maxAge            time.Duration
	sweepInterval     time.Duration
	retryDelay        time.Duration
	maxBodyBytes      int64
	lokiFlushInterval time.Duration
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8476"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxBodySize == "" {
		c.MaxBodySize = "8MB"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "/var/lib/restitch"
	}
	// Expand home directory in storage paths
	if strings.HasPrefix(c.Storage.DataDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.Storage.DataDir = filepath.Join(homeDir, c.Storage.DataDir[2:])
		}
	}
	if strings.HasPrefix(c.Storage.OutputDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.Storage.OutputDir = filepath.Join(homeDir, c.Storage.OutputDir[2:])
		}
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = filepath.Join(c.Storage.DataDir, "files")
	}
	if c.Expiry.MaxAge == "" {
		c.Expiry.MaxAge = "12h"
	}
	if c.Cleanup.RetryDelay == "" {
		c.Cleanup.RetryDelay = "100ms"
	}
	if c.Loki.FlushInterval == "" {
		c.Loki.FlushInterval = "5s"
	}
}

// Validate checks the configuration and resolves duration and size fields.
// It must be called before the duration accessors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.AuthToken != "" && c.JWTSecret != "" {
		return fmt.Errorf("auth_token and jwt_secret are mutually exclusive")
	}

	var err error
	if c.maxAge, err = time.ParseDuration(c.Expiry.MaxAge); err != nil {
		return fmt.Errorf("invalid expiry.max_age: %w", err)
	}
	if c.maxAge <= 0 {
		return fmt.Errorf("expiry.max_age must be positive")
	}

	if c.Expiry.SweepInterval != "" {
		if c.sweepInterval, err = time.ParseDuration(c.Expiry.SweepInterval); err != nil {
			return fmt.Errorf("invalid expiry.sweep_interval: %w", err)
		}
		if c.sweepInterval <= 0 {
			return fmt.Errorf("expiry.sweep_interval must be positive")
		}
	}

	if c.retryDelay, err = time.ParseDuration(c.Cleanup.RetryDelay); err != nil {
		return fmt.Errorf("invalid cleanup.retry_delay: %w", err)
	}
	if c.retryDelay < 0 {
		return fmt.Errorf("cleanup.retry_delay must not be negative")
	}

	if c.maxBodyBytes, err = bytesize.Parse(c.MaxBodySize); err != nil {
		return fmt.Errorf("invalid max_body_size: %w", err)
	}
	if c.maxBodyBytes <= 0 {
		return fmt.Errorf("max_body_size must be positive")
	}

	if c.Loki.Enabled {
		if c.Loki.URL == "" {
			return fmt.Errorf("loki.url is required when loki is enabled")
		}
		if c.lokiFlushInterval, err = time.ParseDuration(c.Loki.FlushInterval); err != nil {
			return fmt.Errorf("invalid loki.flush_interval: %w", err)
		}
		if c.lokiFlushInterval <= 0 {
			return fmt.Errorf("loki.flush_interval must be positive")
		}
	}

	return nil
}

// MaxAge returns the resolved expiry window.
func (c *Config) MaxAge() time.Duration { return c.maxAge }

// SweepInterval returns the resolved background sweep period, zero when the
// worker is disabled.
func (c *Config) SweepInterval() time.Duration { return c.sweepInterval }

// RetryDelay returns the resolved cleanup retry pause.
func (c *Config) RetryDelay() time.Duration { return c.retryDelay }

// MaxBodyBytes returns the resolved request body limit.
func (c *Config) MaxBodyBytes() int64 { return c.maxBodyBytes }

// LokiFlushInterval returns the resolved Loki push period. It is only
// meaningful when Loki shipping is enabled.
func (c *Config) LokiFlushInterval() time.Duration { return c.lokiFlushInterval }

// ApplyLogLevel sets the global log level from a config value. It returns
// true when the level was recognized and applied.
func ApplyLogLevel(level string) bool {
	if level == "" {
		return false
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return false
	}
	zerolog.SetGlobalLevel(parsed)
	return true
}
