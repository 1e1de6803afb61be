package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"."}, cfg.SearchPath)
	assert.Equal(t, "", cfg.CacheDir)
	assert.False(t, cfg.NoCache)
	assert.False(t, cfg.Notes)
	assert.Equal(t, 500, cfg.DebounceMs)
	assert.Equal(t, "info", cfg.Verbosity)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
search_path = ["src", "lib"]
debounce_ms = 100
notes = true
verbosity = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"src", "lib"}, cfg.SearchPath)
	assert.Equal(t, 100, cfg.DebounceMs)
	assert.True(t, cfg.Notes)
	assert.Equal(t, "debug", cfg.Verbosity)
	// Unset keys keep their defaults.
	assert.False(t, cfg.NoCache)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.toml")
	require.NoError(t, os.WriteFile(path, []byte("verbosity = \"warn\"\ndebounce_ms = 100\n"), 0o644))

	t.Setenv("LATTICE_VERBOSITY", "error")
	t.Setenv("LATTICE_DEBOUNCE_MS", "250")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Verbosity)
	assert.Equal(t, 250, cfg.DebounceMs)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.toml")
	require.NoError(t, os.WriteFile(path, []byte("search_path = [oops\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
