// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	derrors "github.com/driftline/driftline/internal/errors"
)

// Default tuning values.
const (
	DefaultDimensions       = 768
	DefaultRRFConstant      = 60
	DefaultOversample       = 3
	DefaultSearchLimit      = 10
	DefaultMaxSearchLimit   = 100
	DefaultIndexWorkers     = 4
	DefaultEmbedCacheSize   = 1024
	DefaultLookbackDays     = 365
	defaultConfigFileName   = "config.yaml"
	defaultDatabaseFileName = "driftline.db"
)

// Config is the root configuration.
type Config struct {
	// DataDir holds the database, lock file, and logs.
	DataDir string `yaml:"data_dir"`

	// OwnerID scopes search spaces and connectors in single-user mode.
	OwnerID string `yaml:"owner_id"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "ollama" or "static".
	Provider   string `yaml:"provider"`
	Host       string `yaml:"host"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig tunes hybrid retrieval.
type SearchConfig struct {
	RRFConstant      int `yaml:"rrf_constant"`
	OversampleFactor int `yaml:"oversample_factor"`
	DefaultLimit     int `yaml:"default_limit"`
	MaxLimit         int `yaml:"max_limit"`
}

// IndexingConfig tunes the connector indexing pipeline.
type IndexingConfig struct {
	// Workers sizes the async indexing pool.
	Workers int `yaml:"workers"`
	// LookbackDays is the window for a connector with no checkpoint.
	LookbackDays int `yaml:"lookback_days"`
}

// LoggingConfig mirrors logging.Config in file form.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".driftline"),
		OwnerID: "local",
		Embedding: EmbeddingConfig{
			Provider:   "static",
			Host:       "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: DefaultDimensions,
			CacheSize:  DefaultEmbedCacheSize,
		},
		Search: SearchConfig{
			RRFConstant:      DefaultRRFConstant,
			OversampleFactor: DefaultOversample,
			DefaultLimit:     DefaultSearchLimit,
			MaxLimit:         DefaultMaxSearchLimit,
		},
		Indexing: IndexingConfig{
			Workers:      DefaultIndexWorkers,
			LookbackDays: DefaultLookbackDays,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// Load reads the config file at path (or DataDir's default location
// when path is empty), applies environment overrides, and validates.
// A missing file yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, defaultConfigFileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, derrors.ConfigError(fmt.Sprintf("parse %s", path), err)
		}
	case os.IsNotExist(err):
		// Defaults stand.
	default:
		return nil, derrors.ConfigError(fmt.Sprintf("read %s", path), err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers DRIFTLINE_* environment variables over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("DRIFTLINE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DRIFTLINE_OWNER_ID"); v != "" {
		c.OwnerID = v
	}
	if v := os.Getenv("DRIFTLINE_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("DRIFTLINE_OLLAMA_HOST"); v != "" {
		c.Embedding.Host = v
	}
	if v := os.Getenv("DRIFTLINE_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("DRIFTLINE_EMBED_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embedding.Dimensions = n
		}
	}
	if v := os.Getenv("DRIFTLINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DRIFTLINE_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Indexing.Workers = n
		}
	}
}

// Validate rejects configurations the rest of the system cannot run on.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return derrors.ConfigError("data_dir must be set", nil)
	}
	if c.OwnerID == "" {
		return derrors.ConfigError("owner_id must be set", nil)
	}

	switch strings.ToLower(c.Embedding.Provider) {
	case "ollama", "static":
	default:
		return derrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q (want ollama or static)", c.Embedding.Provider), nil)
	}
	if c.Embedding.Dimensions <= 0 {
		return derrors.ConfigError("embedding dimensions must be positive", nil)
	}

	if c.Search.RRFConstant <= 0 {
		return derrors.ConfigError("rrf_constant must be positive", nil)
	}
	if c.Search.OversampleFactor < 2 || c.Search.OversampleFactor > 4 {
		return derrors.ConfigError("oversample_factor must be between 2 and 4", nil)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return derrors.ConfigError("search limits must satisfy 0 < default_limit <= max_limit", nil)
	}

	if c.Indexing.Workers <= 0 {
		return derrors.ConfigError("indexing workers must be positive", nil)
	}
	if c.Indexing.LookbackDays <= 0 {
		return derrors.ConfigError("lookback_days must be positive", nil)
	}

	return nil
}

// DatabasePath returns the SQLite database location under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, defaultDatabaseFileName)
}

// ConfigPath returns the default config file location under DataDir.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.DataDir, defaultConfigFileName)
}

// Save writes the configuration as YAML to path, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return derrors.ConfigError("create config directory", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return derrors.ConfigError("encode config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return derrors.ConfigError("write config", err)
	}
	return nil
}
