// Copyright 2026 The Kiln Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for kiln hosts.
//
// Configuration is loaded from a single file specified by:
//   - KILN_CONFIG environment variable, or
//   - an explicit path passed to LoadFile
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilnworks/kiln/lib/importer"
	"github.com/kilnworks/kiln/lib/sidecar"
)

// Config is the master configuration for a kiln pipeline host.
type Config struct {
	// Cache configures the artifact cache.
	Cache CacheConfig `yaml:"cache"`

	// Import configures the import stage.
	Import ImportConfig `yaml:"import"`

	// Sources names the source trees reconciled into the cache.
	Sources []SourceConfig `yaml:"sources"`
}

// CacheConfig configures the artifact cache.
type CacheConfig struct {
	// Root is the cache directory. Created on first use.
	Root string `yaml:"root"`

	// SidecarMode selects "text" (TOML, hand-editable) or "binary"
	// (CBOR) for sidecars and the library file. Fixed per cache:
	// switching modes on an existing cache is not supported.
	SidecarMode string `yaml:"sidecar_mode"`

	// MetaCacheSize bounds the in-memory artifact metadata cache.
	// Zero selects the store default.
	MetaCacheSize int `yaml:"meta_cache_size"`
}

// ImportConfig configures the import stage.
type ImportConfig struct {
	// BatchSize bounds how many source files import concurrently.
	BatchSize int `yaml:"batch_size"`
}

// SourceConfig names one source tree.
type SourceConfig struct {
	// Name is the source's stable identifier. Library entries key on
	// it, so renaming a source orphans its assets.
	Name string `yaml:"name"`

	// Root is the directory backing the source.
	Root string `yaml:"root"`
}

// Default returns the configuration used when a file sets nothing.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Root:        ".cache",
			SidecarMode: sidecar.Text.String(),
		},
		Import: ImportConfig{
			BatchSize: importer.DefaultBatchSize,
		},
	}
}

// Load reads the file named by KILN_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("KILN_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("KILN_CONFIG environment variable not set; " +
			"set it to the path of your kiln.yaml config file")
	}
	return LoadFile(path)
}

// LoadFile reads one config file over the defaults and validates the
// result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// SidecarMode parses the configured sidecar mode.
func (c *Config) SidecarMode() (sidecar.Mode, error) {
	return sidecar.ParseMode(c.Cache.SidecarMode)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Cache.Root == "" {
		return fmt.Errorf("cache.root must not be empty")
	}
	if _, err := sidecar.ParseMode(c.Cache.SidecarMode); err != nil {
		return fmt.Errorf("cache.sidecar_mode: %w", err)
	}
	if c.Cache.MetaCacheSize < 0 {
		return fmt.Errorf("cache.meta_cache_size must not be negative")
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be positive")
	}

	seen := make(map[string]bool)
	for i, source := range c.Sources {
		if source.Name == "" {
			return fmt.Errorf("sources[%d]: name must not be empty", i)
		}
		if source.Root == "" {
			return fmt.Errorf("sources[%d] (%s): root must not be empty", i, source.Name)
		}
		if seen[source.Name] {
			return fmt.Errorf("duplicate source name %q", source.Name)
		}
		seen[source.Name] = true
	}
	return nil
}
