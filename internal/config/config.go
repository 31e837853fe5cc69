// Package config holds the memory-core configuration: storage paths,
// embedding provider, auto-feed flags, retrieval knobs, and the calibration
// category/tier tables. Loaded from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gpcmemory configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Fact store configuration
	Store StoreConfig `yaml:"store"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Auto-feed writer configuration
	AutoFeed AutoFeedConfig `yaml:"auto_feed"`

	// Unified retrieval configuration
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Outcome calibration configuration
	Calibration CalibrationConfig `yaml:"calibration"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite fact store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`

	// RequireVec fails startup when the sqlite-vec extension is missing
	// instead of degrading to brute-force cosine search.
	RequireVec bool `yaml:"require_vec"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, genai

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	// Timeout bounds a single embedding call. Embedding is the only
	// blocking network I/O in the retrieval path.
	Timeout string `yaml:"timeout"`
}

// AutoFeedConfig configures the episode auto-feed writer.
type AutoFeedConfig struct {
	// Enabled is the global kill switch for the whole write path.
	Enabled bool `yaml:"enabled"`

	// MaxCitations caps the KG event fan-out per episode.
	MaxCitations int `yaml:"max_citations"`

	// SummaryMaxChars bounds the stored episode summary.
	SummaryMaxChars int `yaml:"summary_max_chars"`
}

// RetrievalConfig configures the unified retrieval engine.
type RetrievalConfig struct {
	TopKPerChannel int    `yaml:"top_k_per_channel"`
	Deadline       string `yaml:"deadline"`

	// GraphExpandLimit caps temporal-edge adjacency expansion of graph hits.
	GraphExpandLimit int `yaml:"graph_expand_limit"`
}

// CalibrationConfig configures the adaptive calibration engine.
// The category set and tier bands are deliberately configuration, not
// constants: they must match whatever scoring formula consumes the output.
type CalibrationConfig struct {
	// BaseWeights maps triage category to its baseline weight.
	BaseWeights map[string]float64 `yaml:"base_weights"`

	// MinSamples is the minimum outcome count before weights adapt.
	MinSamples int `yaml:"min_samples"`

	// WeightFloor is the minimum weight any category can be driven to.
	WeightFloor float64 `yaml:"weight_floor"`

	// Tier score bands on the 0-100 predicted composite score.
	GreenMinScore  float64 `yaml:"green_min_score"`
	YellowMinScore float64 `yaml:"yellow_min_score"`

	// WeightsPath is where adapted weights are persisted for the
	// external scoring job.
	WeightsPath string `yaml:"weights_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultBaseWeights is the baseline triage weight table. Category names
// mirror the deal-screener scoring dimensions.
func DefaultBaseWeights() map[string]float64 {
	return map[string]float64{
		"access":        0.15,
		"drainage":      0.12,
		"adjacency":     0.12,
		"environmental": 0.13,
		"utilities":     0.13,
		"politics":      0.10,
		"zoning":        0.15,
		"acreage":       0.10,
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "gpcmemory",
		Version: "0.3.0",

		Store: StoreConfig{
			DatabasePath: "data/gpcmemory.db",
			RequireVec:   false,
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			Timeout:        "10s",
		},

		AutoFeed: AutoFeedConfig{
			Enabled:         true,
			MaxCitations:    8,
			SummaryMaxChars: 260,
		},

		Retrieval: RetrievalConfig{
			TopKPerChannel:   10,
			Deadline:         "15s",
			GraphExpandLimit: 20,
		},

		Calibration: CalibrationConfig{
			BaseWeights:    DefaultBaseWeights(),
			MinSamples:     5,
			WeightFloor:    0.02,
			GreenMinScore:  70,
			YellowMinScore: 40,
			WeightsPath:    "data/adapted_weights.yaml",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Defaults when no config file exists yet
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if path := os.Getenv("GPCMEMORY_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if v := os.Getenv("GPCMEMORY_AUTOFEED_DISABLED"); v == "1" || v == "true" {
		c.AutoFeed.Enabled = false
	}
}

// GetEmbeddingTimeout returns the embedding call timeout as a duration.
func (c *Config) GetEmbeddingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetRetrievalDeadline returns the overall retrieval deadline as a duration.
func (c *Config) GetRetrievalDeadline() time.Duration {
	d, err := time.ParseDuration(c.Retrieval.Deadline)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// ValidProviders lists all supported embedding providers.
var ValidProviders = []string{"ollama", "genai"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.Embedding.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidProviders)
	}

	if c.AutoFeed.MaxCitations <= 0 {
		return fmt.Errorf("auto_feed.max_citations must be positive, got %d", c.AutoFeed.MaxCitations)
	}
	if c.Calibration.MinSamples <= 0 {
		return fmt.Errorf("calibration.min_samples must be positive, got %d", c.Calibration.MinSamples)
	}
	if c.Calibration.WeightFloor < 0 || c.Calibration.WeightFloor >= 1 {
		return fmt.Errorf("calibration.weight_floor must be in [0,1), got %v", c.Calibration.WeightFloor)
	}
	if c.Calibration.YellowMinScore >= c.Calibration.GreenMinScore {
		return fmt.Errorf("calibration tier bands inverted: yellow_min %.0f >= green_min %.0f",
			c.Calibration.YellowMinScore, c.Calibration.GreenMinScore)
	}
	if len(c.Calibration.BaseWeights) == 0 {
		return fmt.Errorf("calibration.base_weights must not be empty")
	}

	return nil
}
