// Package config loads the connectivity gateway configuration from a YAML
// file with environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eclipse-ditto/ditto-sub022/natsclient"
)

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// ConnectivityConfig tunes gateway-wide connection behavior.
type ConnectivityConfig struct {
	// TestTimeout bounds a TestConnection probe.
	TestTimeout time.Duration `yaml:"testTimeout"`
	// BlockedHostnames may never be used as connection endpoints.
	BlockedHostnames []string `yaml:"blockedHostnames"`
}

// Config is the complete gateway configuration.
type Config struct {
	NATS         natsclient.Config  `yaml:"nats"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		NATS: natsclient.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Connectivity: ConnectivityConfig{
			TestTimeout: 30 * time.Second,
		},
	}
}

// Load reads the configuration file at path, falling back to defaults for
// absent values, then applies environment overrides. An empty path loads
// defaults and overrides only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides file values with CONNECTIVITY_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CONNECTIVITY_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CONNECTIVITY_METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("CONNECTIVITY_BLOCKED_HOSTNAMES"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(h); trimmed != "" {
				hosts = append(hosts, trimmed)
			}
		}
		cfg.Connectivity.BlockedHostnames = hosts
	}
}

// Validate checks the configuration for values the gateway cannot run with.
func (c Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url must not be empty")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port)
	}
	if c.Connectivity.TestTimeout <= 0 {
		return fmt.Errorf("connectivity.testTimeout must be positive")
	}
	return nil
}
