// Copyright 2025-2026 The blewatch Authors. All rights reserved.
// Use of this source code is governed by the MIT license
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for blewatch.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"BLEWATCH_LOG_LEVEL"`
	Watchlist []string        `yaml:"watchlist"`
	DataDir   string          `yaml:"data_dir" env:"BLEWATCH_DATA_DIR"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Writer    WriterConfig    `yaml:"writer"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Exporters ExportersConfig `yaml:"exporters"`
	Health    HealthConfig    `yaml:"health"`
}

// PipelineConfig sizes the bounded consumer channels and the status
// reporting cadence.
type PipelineConfig struct {
	Capacity       int           `yaml:"capacity"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// WriterConfig configures the durable CSV writer.
type WriterConfig struct {
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// ArchiveConfig configures the optional SQLite archive sink.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ExportersConfig holds optional observation forwarders.
type ExportersConfig struct {
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig configures the optional OTLP log forwarder.
type OTLPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"BLEWATCH_HEALTH_PORT"` // e.g. ":8787"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "data",
		Pipeline: PipelineConfig{
			Capacity:       512,
			StatusInterval: 30 * time.Second,
		},
		Writer: WriterConfig{
			MaxConsecutiveFailures: 5,
		},
		Archive: ArchiveConfig{
			Enabled: false,
		},
		Exporters: ExportersConfig{
			OTLP: OTLPConfig{
				Enabled:  false,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8787",
		},
	}
}

// ApplyEnvOverrides reads BLEWATCH_* environment variables and applies
// them to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"BLEWATCH_LOG_LEVEL":     func(v string) { c.LogLevel = v },
		"BLEWATCH_DATA_DIR":      func(v string) { c.DataDir = v },
		"BLEWATCH_HEALTH_PORT":   func(v string) { c.Health.Port = v },
		"BLEWATCH_OTLP_ENDPOINT": func(v string) { c.Exporters.OTLP.Endpoint = v },
	}

	boolOverrides := map[string]*bool{
		"BLEWATCH_HEALTH_ENABLED":  &c.Health.Enabled,
		"BLEWATCH_ARCHIVE_ENABLED": &c.Archive.Enabled,
		"BLEWATCH_OTLP_ENABLED":    &c.Exporters.OTLP.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Pipeline.Capacity < 0 {
		return fmt.Errorf("pipeline.capacity must not be negative")
	}

	if c.Pipeline.StatusInterval != 0 && c.Pipeline.StatusInterval < time.Second {
		return fmt.Errorf("pipeline.status_interval must be at least 1s")
	}

	if c.Writer.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("writer.max_consecutive_failures must not be negative")
	}

	if c.Exporters.OTLP.Enabled && c.Exporters.OTLP.Endpoint == "" {
		return fmt.Errorf("exporters.otlp.endpoint is required when OTLP is enabled")
	}

	if c.Health.Enabled && c.Health.Port == "" {
		return fmt.Errorf("health.port is required when health is enabled")
	}

	return nil
}
