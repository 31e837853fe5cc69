package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.AutoFeed.MaxCitations)
	assert.Equal(t, 260, cfg.AutoFeed.SummaryMaxChars)
	assert.True(t, cfg.AutoFeed.Enabled)
	assert.Equal(t, 5, cfg.Calibration.MinSamples)
	assert.Equal(t, 0.02, cfg.Calibration.WeightFloor)

	sum := 0.0
	for _, w := range cfg.Calibration.BaseWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 0.001, "base weights must sum to 1")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gpcmemory", cfg.Name)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Store.DatabasePath = "custom/facts.db"
	cfg.Retrieval.TopKPerChannel = 25
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom/facts.db", got.Store.DatabasePath)
	assert.Equal(t, 25, got.Retrieval.TopKPerChannel)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY sets provider if empty", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "test-key", cfg.Embedding.GenAIAPIKey)
		assert.Equal(t, "genai", cfg.Embedding.Provider)
	})

	t.Run("GEMINI_API_KEY does not override existing provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "test-key")

		cfg := &Config{Embedding: EmbeddingConfig{Provider: "ollama"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "ollama", cfg.Embedding.Provider)
	})

	t.Run("GPCMEMORY_DB overrides database path", func(t *testing.T) {
		t.Setenv("GPCMEMORY_DB", "/tmp/other.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/other.db", cfg.Store.DatabasePath)
	})

	t.Run("kill switch disables auto-feed", func(t *testing.T) {
		t.Setenv("GPCMEMORY_AUTOFEED_DISABLED", "1")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.AutoFeed.Enabled)
	})
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Provider = "unknown"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Calibration.YellowMinScore = 80
	assert.Error(t, cfg.Validate(), "yellow band above green must be rejected")

	cfg = DefaultConfig()
	cfg.Calibration.BaseWeights = nil
	assert.Error(t, cfg.Validate())
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.GetEmbeddingTimeout())
	assert.Equal(t, 15*time.Second, cfg.GetRetrievalDeadline())

	cfg.Embedding.Timeout = "bogus"
	cfg.Retrieval.Deadline = ""
	assert.Equal(t, 10*time.Second, cfg.GetEmbeddingTimeout())
	assert.Equal(t, 15*time.Second, cfg.GetRetrievalDeadline())
}
