// Package config provides configuration management for espcfg.
//
// Config file locations (priority order):
//  1. $ESPCFG_CONFIG
//  2. ./espcfg.yaml
//  3. $XDG_CONFIG_HOME/espcfg/config.yaml
//  4. ~/.config/espcfg/config.yaml
//  5. /etc/espcfg/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Version  int            `yaml:"version"`
	VarDir   string         `yaml:"var_dir"`
	LogDir   string         `yaml:"log_dir"`
	Database DatabaseConfig `yaml:"database"`
	Probe    ProbeConfig    `yaml:"probe"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// DatabaseConfig holds unit-store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProbeConfig holds discovery behavior.
type ProbeConfig struct {
	// Timeout bounds each phase-1 probe; phase 2 triples it.
	Timeout Duration `yaml:"timeout"`
	// MaxConcurrent bounds the probe fan-out.
	MaxConcurrent int `yaml:"max_concurrent"`
	// Prescan enables the nmap port prescan before HTTP probing.
	Prescan bool `yaml:"prescan"`
}

// HTTPConfig holds the device transport settings.
type HTTPConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// Load finds and loads the config file, or returns defaults if none found.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, path, nil
}

// DefaultConfig returns sensible defaults for a new installation.
func DefaultConfig() *Config {
	cfg := &Config{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.VarDir == "" {
		c.VarDir = "./var"
	}
	if c.LogDir == "" {
		c.LogDir = "./log"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.VarDir, "units.db")
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = Duration(time.Second)
	}
	if c.Probe.MaxConcurrent == 0 {
		c.Probe.MaxConcurrent = 64
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = Duration(30 * time.Second)
	}
}

// UnitsFile returns the path of the units.json exchange file.
func (c *Config) UnitsFile() string {
	return filepath.Join(c.VarDir, "units.json")
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
