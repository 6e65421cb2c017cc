// Package config loads the engine's runtime configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI and engine defaults.
type Config struct {
	// Metrics enables the performance-metric TSV side channel.
	Metrics bool `yaml:"metrics"`

	// QueryTTL is the default time-to-live in seconds for registered
	// queries; 0 means infinite.
	QueryTTL int `yaml:"query_ttl"`

	// StatementTTL is the default time-to-live in seconds for ingested
	// statements; 0 means infinite.
	StatementTTL int `yaml:"statement_ttl"`

	LinkedData LinkedData `yaml:"linked_data"`
}

// LinkedData configures the optional fetch-on-reference subsystem.
type LinkedData struct {
	Enabled bool `yaml:"enabled"`

	// CacheDir is the dereference cache location; empty keeps the cache
	// in memory.
	CacheDir string `yaml:"cache_dir"`

	// StatementTTL in seconds applied to statements from fetched
	// documents; 0 means infinite.
	StatementTTL int `yaml:"statement_ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{}
}

// Load reads a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
