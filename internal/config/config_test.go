package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "static", cfg.Embedding.Provider)
	assert.Equal(t, DefaultDimensions, cfg.Embedding.Dimensions)
	assert.Equal(t, DefaultRRFConstant, cfg.Search.RRFConstant)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.OwnerID)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/driftline-test
owner_id: tester
embedding:
  provider: ollama
  model: mxbai-embed-large
  dimensions: 1024
search:
  rrf_constant: 40
  oversample_factor: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/driftline-test", cfg.DataDir)
	assert.Equal(t, "tester", cfg.OwnerID)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 1024, cfg.Embedding.Dimensions)
	assert.Equal(t, 40, cfg.Search.RRFConstant)
	assert.Equal(t, 2, cfg.Search.OversampleFactor)
	// Unset fields keep defaults.
	assert.Equal(t, DefaultSearchLimit, cfg.Search.DefaultLimit)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: [not: valid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIFTLINE_DATA_DIR", "/tmp/env-data")
	t.Setenv("DRIFTLINE_OWNER_ID", "env-owner")
	t.Setenv("DRIFTLINE_EMBED_PROVIDER", "ollama")
	t.Setenv("DRIFTLINE_EMBED_DIMENSIONS", "512")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-data", cfg.DataDir)
	assert.Equal(t, "env-owner", cfg.OwnerID)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"empty owner", func(c *Config) { c.OwnerID = "" }},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "openai" }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"zero rrf constant", func(c *Config) { c.Search.RRFConstant = 0 }},
		{"oversample too small", func(c *Config) { c.Search.OversampleFactor = 1 }},
		{"oversample too large", func(c *Config) { c.Search.OversampleFactor = 9 }},
		{"max below default limit", func(c *Config) { c.Search.MaxLimit = c.Search.DefaultLimit - 1 }},
		{"zero workers", func(c *Config) { c.Indexing.Workers = 0 }},
		{"zero lookback", func(c *Config) { c.Indexing.LookbackDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.OwnerID = "roundtrip"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.OwnerID)
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "driftline.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join("/data", "config.yaml"), cfg.ConfigPath())
}
