// Package cmd provides the CLI commands for driftline.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/embed"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the driftline CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driftline",
		Short: "Personal knowledge search across documents and connectors",
		Long: `Driftline indexes your documents into search spaces and runs hybrid
(vector + full-text) retrieval over them. Connectors pull new content
from Slack, Notion, and GitHub incrementally.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("driftline version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.driftline/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSpacesCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newConnectorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: debugMode,
	}
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	} else {
		logCfg.FilePath = filepath.Join(cfg.DataDir, "logs", "driftline.log")
	}
	if debugMode {
		logCfg.Level = "debug"
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// app bundles the wired dependencies a command needs.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	embedder embed.Embedder
}

// openApp loads config, builds the embedder, and opens the store.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath(), embedder)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	return &app{cfg: cfg, store: st, embedder: embedder}, nil
}

func (a *app) close() {
	_ = a.store.Close()
	_ = a.embedder.Close()
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "ollama":
		inner = embed.NewOllamaEmbedder(embed.OllamaConfig{
			Host:       cfg.Embedding.Host,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
	default:
		static, err := embed.NewStaticEmbedder(cfg.Embedding.Dimensions)
		if err != nil {
			return nil, err
		}
		inner = static
	}
	return embed.NewCachedEmbedder(inner, cfg.Embedding.CacheSize), nil
}

// stdoutIsTTY gates decorative output; piped output stays plain.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
