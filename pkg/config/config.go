// Copyright 2026 © The Gribscan Harmonie Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads layered configuration: defaults, a YAML file,
// GRIBSCAN_ environment variables and --set overrides.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/gribscan/gribscan-harmonie/pkg/errors"
)

// EnvPrefix is the prefix of environment overrides (GRIBSCAN_INDEX_WORKERS -> index.workers).
const EnvPrefix = "GRIBSCAN_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Index     IndexConfig     `koanf:"index"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Cache     CacheConfig     `koanf:"cache"`
	Watch     WatchConfig     `koanf:"watch"`
	Sources   []SourceConfig  `koanf:"sources"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter string `koanf:"exporter"` // none, stdout, otlp
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`
	// Interval is the metric export period.
	Interval time.Duration `koanf:"interval"`
}

type IndexConfig struct {
	// Root mirrors index files below this directory instead of next to the GRIB files.
	Root     string `koanf:"root"`
	Workers  int    `koanf:"workers"`
	Progress bool   `koanf:"progress"`
	Retries  int    `koanf:"retries"`
	// Compress writes collection stores as .zarr.json.zst.
	Compress bool `koanf:"compress"`
}

type CatalogConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type CacheConfig struct {
	// Size is the number of opened reference stores kept in memory.
	Size int64 `koanf:"size"`
}

type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// SourceConfig describes where the GRIB files of one forecast live.
type SourceConfig struct {
	Name    string `koanf:"name" yaml:"name"`
	Pattern string `koanf:"pattern" yaml:"pattern"`
	// Manifest is a YAML file listing the files of each analysis time, used
	// instead of Pattern.
	Manifest string `koanf:"manifest" yaml:"manifest,omitempty"`
	// Interval between analysis times, e.g. "3h" or "PT3H".
	Interval string `koanf:"interval" yaml:"interval"`
	// Timespan of analysis times covered by one collection of files.
	Timespan string `koanf:"timespan" yaml:"timespan"`
}

// Source returns the source named name.
func (c *Config) Source(name string) (SourceConfig, error) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, nil
		}
	}
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return SourceConfig{}, errors.Newf(errors.CodeNotFound, "source %q is not configured", name).
		WithContext("available", names)
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":          "info",
		"log.format":         "text",
		"telemetry.exporter": "none",
		"telemetry.interval": "1m",
		"index.workers":      runtime.NumCPU(),
		"index.progress":     true,
		"index.retries":      3,
		"index.compress":     false,
		"catalog.enabled":    false,
		"catalog.path":       "gribscan-catalog.db",
		"cache.size":         64,
		"watch.debounce":     "2s",
	}
}

// Load reads defaults, then the YAML file at path (if any), then the environment.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithCLI extracts --config and --set flags from args and loads the result.
// Later --set values win.
func LoadWithCLI(args []string) (*Config, error) {
	path, sets, err := ParseCLI(args)
	if err != nil {
		return nil, err
	}
	return load(path, sets)
}

// ParseCLI returns the config path and the key=value overrides found in args.
func ParseCLI(args []string) (string, map[string]interface{}, error) {
	path := ""
	sets := map[string]interface{}{}
	addSet := func(kv string) error {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return errors.Newf(errors.CodeInvalidInput, "invalid --set %q, expected key=value", kv)
		}
		sets[key] = value
		return nil
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			if i+1 >= len(args) {
				return "", nil, errors.New(errors.CodeInvalidInput, "missing value for --config", nil)
			}
			path = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case arg == "--set":
			if i+1 >= len(args) {
				return "", nil, errors.New(errors.CodeInvalidInput, "missing value for --set", nil)
			}
			if err := addSet(args[i+1]); err != nil {
				return "", nil, err
			}
			i++
		case strings.HasPrefix(arg, "--set="):
			if err := addSet(strings.TrimPrefix(arg, "--set=")); err != nil {
				return "", nil, err
			}
		}
	}
	return path, sets, nil
}

func load(path string, sets map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.New(errors.CodeInternal, "load defaults", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "load config file", err).WithContext("path", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "load environment", err)
	}

	if len(sets) > 0 {
		if err := k.Load(confmap.Provider(sets, "."), nil); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "apply --set overrides", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that the loaders and the indexer rely on.
func (c *Config) Validate() error {
	if c.Index.Workers < 1 {
		return errors.Newf(errors.CodeInvalidInput, "index.workers must be >= 1, got %d", c.Index.Workers)
	}
	if c.Index.Retries < 1 {
		c.Index.Retries = 1
	}
	if c.Cache.Size < 1 {
		return errors.Newf(errors.CodeInvalidInput, "cache.size must be >= 1, got %d", c.Cache.Size)
	}
	seen := map[string]bool{}
	for i, s := range c.Sources {
		if s.Name == "" || (s.Pattern == "") == (s.Manifest == "") {
			return errors.Newf(errors.CodeInvalidInput, "sources[%d] needs a name and exactly one of pattern or manifest", i)
		}
		if seen[s.Name] {
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("duplicate source %q", s.Name), nil)
		}
		seen[s.Name] = true
	}
	return nil
}
