package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gpcmemory/internal/config"
	"gpcmemory/internal/embedding"
	"gpcmemory/internal/logging"
	"gpcmemory/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dbPath     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gpcmemory",
	Short: "gpcmemory - Adaptive memory and retrieval core for the deal pipeline",
	Long: `gpcmemory records agent runs as episodes with linked knowledge-graph
facts and reward signals, answers precedent queries by fanning out over
semantic, lexical and graph channels, and recalibrates the triage
scoring weights against real-world deal outcomes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize("."); err != nil {
			logger.Warn("File logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadConfig reads the config file and applies the --db override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Store.DatabasePath = dbPath
	}
	return cfg, nil
}

// openStore opens the fact store described by the config.
func openStore(cfg *config.Config) (*store.FactStore, error) {
	fs, err := store.Open(cfg.Store.DatabasePath, store.Options{
		RequireVec: cfg.Store.RequireVec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open fact store: %w", err)
	}
	return fs, nil
}

// buildEmbedder creates the embedding engine, or returns nil when no
// provider is configured. The caller degrades to lexical+graph only.
func buildEmbedder(cfg *config.Config) embedding.Engine {
	eng, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Timeout:        cfg.GetEmbeddingTimeout(),
	})
	if err != nil {
		logger.Warn("Embedding engine unavailable, semantic channel degraded", zap.Error(err))
		return nil
	}
	return eng
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".gpcmemory/config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Fact store database path (overrides config)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
