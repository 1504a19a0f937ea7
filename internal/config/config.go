// Package config provides configuration parsing and validation for the
// relay: a small, flat YAML document describing the two addresses the
// relay bridges and the ambient settings around it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/postalsys/udprelay/internal/netaddr"
	"gopkg.in/yaml.v3"
)

// Config is the complete relay configuration.
type Config struct {
	Listen      ListenConfig    `yaml:"listen"`
	Destination EndpointConfig  `yaml:"destination"`
	SourceBind  *EndpointConfig `yaml:"source_bind"`
	IdleTimeout time.Duration   `yaml:"idle_timeout"`
	Log         LogConfig       `yaml:"log"`
	Metrics     MetricsConfig   `yaml:"metrics"`
}

// ListenConfig is the inside-facing address the relay accepts client
// datagrams on.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

// EndpointConfig is a bare host/port pair, used both for the fixed
// upstream destination and for an optional pinned source-bind template.
type EndpointConfig struct {
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

// LogConfig controls the relay's structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig controls the optional Prometheus metrics HTTP endpoint.
// Address is left empty to disable it entirely.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Default returns a Config with the relay's baseline settings; Parse
// starts from this and overlays whatever the YAML document supplies.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Address: "0.0.0.0",
			Port:    0,
		},
		IdleTimeout: 45 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, overlaying it onto
// Default() and validating the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors, collecting every problem
// found rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs []string

	if c.Listen.Address == "" {
		errs = append(errs, "listen.address is required")
	}
	if c.Destination.Address == "" {
		errs = append(errs, "destination.address is required")
	}
	if c.Destination.Port == 0 {
		errs = append(errs, "destination.port is required")
	}
	if c.SourceBind != nil && c.SourceBind.Address == "" {
		errs = append(errs, "source_bind.address must not be empty when source_bind is set")
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	}
	return false
}

// ListenAddr resolves the configured listen address into a netaddr.Addr.
func (c *Config) ListenAddr() (netaddr.Addr, error) {
	return netaddr.Parse(c.Listen.Address, c.Listen.Port)
}

// DestinationAddr resolves the configured fixed upstream destination into
// a netaddr.Addr.
func (c *Config) DestinationAddr() (netaddr.Addr, error) {
	return netaddr.Parse(c.Destination.Address, c.Destination.Port)
}

// BindTemplateAddr resolves the optional source-bind template, defaulting
// to the wildcard address in the destination's family with no pinned
// port when source_bind is not set.
func (c *Config) BindTemplateAddr() (netaddr.Addr, error) {
	if c.SourceBind == nil {
		dest, err := c.DestinationAddr()
		if err != nil {
			return netaddr.Addr{}, err
		}
		return netaddr.Zero(dest.IsV6(), 0), nil
	}
	return netaddr.Parse(c.SourceBind.Address, c.SourceBind.Port)
}
