// Package config loads tool configuration from defaults, an optional
// lattice.toml, and LATTICE_-prefixed environment variables, in that
// order of increasing priority. Command-line flags override the result at
// the call site.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "lattice.toml"

// Config holds all configuration for the analyzer.
type Config struct {
	// SearchPath lists the roots module ids are resolved against.
	SearchPath []string `koanf:"search_path"`

	// CacheDir is where the badger cache lives. Empty selects
	// ".lattice/cache" under the first search path root.
	CacheDir string `koanf:"cache_dir"`

	// NoCache disables the analysis cache entirely.
	NoCache bool `koanf:"no_cache"`

	// Notes includes context notes when rendering diagnostics.
	Notes bool `koanf:"notes"`

	// DebounceMs is the watch-mode batching window in milliseconds.
	DebounceMs int `koanf:"debounce_ms"`

	// Verbosity is the log level: debug, info, warn, or error.
	Verbosity string `koanf:"verbosity"`
}

// Load reads configuration. An empty path falls back to DefaultFile; a
// missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"search_path": []string{"."},
		"cache_dir":   "",
		"no_cache":    false,
		"notes":       false,
		"debounce_ms": 500,
		"verbosity":   "info",
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		// Optional; missing files are fine.
		_ = k.Load(file.Provider(DefaultFile), toml.Parser())
	} else {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// LATTICE_SEARCH_PATH=src maps to search_path, and so on. Underscores
	// inside key names survive because dots never appear in our keys.
	if err := k.Load(env.Provider("LATTICE_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "LATTICE_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.SearchPath) == 0 {
		cfg.SearchPath = []string{"."}
	}
	return &cfg, nil
}

// mapProvider adapts a plain map as a koanf provider for defaults.
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
