// Package config loads and defaults the netwarden service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ApplyConfig tunes the apply executor.
type ApplyConfig struct {
	// DeviceTimeoutSeconds is the total per-device deadline.
	DeviceTimeoutSeconds int `yaml:"device_timeout_seconds"`

	// TransportTimeoutSeconds is the per-RPC read timeout.
	TransportTimeoutSeconds int `yaml:"transport_timeout_seconds"`

	// DefaultBatchSize is used when plan.batch_size is 0.
	DefaultBatchSize int `yaml:"default_batch_size"`

	// DefaultPauseSeconds is used when plan.pause_seconds_between_batches is 0.
	DefaultPauseSeconds int `yaml:"default_pause_seconds"`
}

// RBACConfig tunes authorization behavior.
type RBACConfig struct {
	// ProdWriteDefaultDenied blocks write families on prod devices.
	ProdWriteDefaultDenied *bool `yaml:"prod_write_default_denied"`
}

// Config holds the service configuration.
type Config struct {
	ApprovalTTLSeconds int         `yaml:"approval_ttl_seconds"`
	Apply              ApplyConfig `yaml:"apply"`
	RBAC               RBACConfig  `yaml:"rbac"`

	StorePath    string `yaml:"store_path"`
	RedisAddr    string `yaml:"redis_addr,omitempty"`
	AuditLogPath string `yaml:"audit_log_path,omitempty"`
	LogLevel     string `yaml:"log_level,omitempty"`
	LogJSON      bool   `yaml:"log_json,omitempty"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.ApprovalTTLSeconds == 0 {
		c.ApprovalTTLSeconds = 900
	}
	if c.Apply.DeviceTimeoutSeconds == 0 {
		c.Apply.DeviceTimeoutSeconds = 300
	}
	if c.Apply.TransportTimeoutSeconds == 0 {
		c.Apply.TransportTimeoutSeconds = 30
	}
	if c.Apply.DefaultBatchSize == 0 {
		c.Apply.DefaultBatchSize = 5
	}
	if c.Apply.DefaultPauseSeconds == 0 {
		c.Apply.DefaultPauseSeconds = 60
	}
	if c.RBAC.ProdWriteDefaultDenied == nil {
		t := true
		c.RBAC.ProdWriteDefaultDenied = &t
	}
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ProdWriteDenied reports whether prod writes are denied by default.
func (c *Config) ProdWriteDenied() bool {
	return c.RBAC.ProdWriteDefaultDenied == nil || *c.RBAC.ProdWriteDefaultDenied
}

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "netwarden.yaml"
	}
	return filepath.Join(home, ".netwarden", "config.yaml")
}

// DefaultStorePath returns the default path for the SQLite store.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "netwarden.db"
	}
	return filepath.Join(home, ".netwarden", "netwarden.db")
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom reads configuration from a specific path. A missing file
// yields the defaults.
func LoadFrom(path string) (*Config, error) {
	c := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Normalize()
			return c, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	c.Normalize()
	return c, nil
}
