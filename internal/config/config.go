// Package config provides configuration management for the gateway.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including server port, retry
// policy, quota fallback behavior, and API keys.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// APIKeys is a list of keys for authenticating clients to this gateway.
	APIKeys []string `yaml:"api-keys"`

	// Debug enables or disables debug-level logging and other debug features.
	Debug bool `yaml:"debug"`

	// Quiet raises the log level so only warnings and errors are emitted.
	Quiet bool `yaml:"quiet"`

	// RequestRetry defines how many identities a request may try before failing.
	RequestRetry int `yaml:"request-retry"`

	// QuotaFallback allows a Gemini identity to retry on its CLI quota after
	// the antigravity quota rate-limits.
	QuotaFallback bool `yaml:"quota-fallback"`

	// MaxRateLimitWaitSeconds bounds how long a request will wait for a
	// quota reset before failing with an all-rate-limited error.
	MaxRateLimitWaitSeconds int `yaml:"max-rate-limit-wait-seconds"`

	// RequestTimeoutSeconds is the per-attempt upstream HTTP timeout.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`

	// StoragePath overrides the location of the accounts file.
	StoragePath string `yaml:"storage-path"`

	// LoggingToFile routes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Port:                    8317,
		RequestRetry:            3,
		QuotaFallback:           true,
		MaxRateLimitWaitSeconds: 300,
		RequestTimeoutSeconds:   300,
	}
}

// LoadConfig reads and parses the configuration file at the given path
// over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.RequestRetry <= 0 {
		cfg.RequestRetry = 3
	}
	if cfg.MaxRateLimitWaitSeconds <= 0 {
		cfg.MaxRateLimitWaitSeconds = 300
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 300
	}
	return cfg, nil
}
