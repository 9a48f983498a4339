package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind/ragserver/models"
)

// clearEnv blanks every variable Load reads so values leaking in from the
// host environment cannot skew a test.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DATABASE_URL", "VECTOR_BACKEND", "CHROMA_URL",
		"EMBEDDING_DIMENSIONS", "SIMILARITY_METRIC", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"TOP_K_DEFAULT", "SIMILARITY_THRESHOLD",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "LLM_PROVIDER", "CHAT_MODEL",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "OLLAMA_URL",
		"MAX_RETRIES", "RETRY_BACKOFF_BASE", "PROVIDER_TIMEOUT", "EMBED_BATCH_SIZE",
		"CONTEXT_BUDGET", "SUMMARY_MAX_CHARS", "MAX_HISTORY_TURNS", "MAX_CONCURRENT_LLM_CALLS",
		"MAX_UPLOAD_BYTES", "WATCH_DIR", "PORT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func configError(t *testing.T, err error) *models.ConfigError {
	t.Helper()
	var cerr *models.ConfigError
	require.ErrorAs(t, err, &cerr)
	return cerr
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("VECTOR_BACKEND", BackendMemory)
	t.Setenv("EMBEDDING_PROVIDER", ProviderOllama)
	t.Setenv("LLM_PROVIDER", ProviderOllama)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1536, cfg.EmbeddingDims)
	assert.Equal(t, MetricCosine, cfg.SimilarityMetric)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.TopKDefault)
	assert.Equal(t, 0.7, cfg.SimilarityThreshold)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoffBase)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 32, cfg.EmbedBatchSize)
	assert.Equal(t, 12000, cfg.ContextBudget)
	assert.Equal(t, 2000, cfg.SummaryMaxChars)
	assert.Equal(t, 6, cfg.MaxHistoryTurns)
	assert.Equal(t, 4, cfg.MaxConcurrentLLM)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	assert.Equal(t, "gpt-3.5-turbo", cfg.ChatModel)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadReadsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VECTOR_BACKEND", BackendChroma)
	t.Setenv("CHROMA_URL", "http://chroma:9000")
	t.Setenv("EMBEDDING_PROVIDER", ProviderOllama)
	t.Setenv("LLM_PROVIDER", ProviderOllama)
	t.Setenv("EMBEDDING_DIMENSIONS", "768")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("SIMILARITY_THRESHOLD", "0.5")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("WATCH_DIR", "/srv/drop")
	t.Setenv("PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendChroma, cfg.VectorBackend)
	assert.Equal(t, "http://chroma:9000", cfg.ChromaURL)
	assert.Equal(t, 768, cfg.EmbeddingDims)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 0.5, cfg.SimilarityThreshold)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.Equal(t, "/srv/drop", cfg.WatchDir)
	assert.Equal(t, "9999", cfg.Port)
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", ProviderOllama)
	t.Setenv("LLM_PROVIDER", ProviderOllama)

	_, err := Load()

	assert.Equal(t, "DATABASE_URL", configError(t, err).Key)
}

func TestLoadRequiresProviderCredentials(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VECTOR_BACKEND", BackendMemory)

		_, err := Load()

		assert.Equal(t, "OPENAI_API_KEY", configError(t, err).Key)
	})

	t.Run("gemini", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VECTOR_BACKEND", BackendMemory)
		t.Setenv("EMBEDDING_PROVIDER", ProviderOllama)
		t.Setenv("LLM_PROVIDER", ProviderGemini)

		_, err := Load()

		assert.Equal(t, "GEMINI_API_KEY", configError(t, err).Key)
	})
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"CHUNK_SIZE", "lots"},
		{"SIMILARITY_THRESHOLD", "high"},
		{"RETRY_BACKOFF_BASE", "soon"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("VECTOR_BACKEND", BackendMemory)
			t.Setenv("EMBEDDING_PROVIDER", ProviderOllama)
			t.Setenv("LLM_PROVIDER", ProviderOllama)
			t.Setenv(tc.key, tc.value)

			_, err := Load()

			assert.Equal(t, tc.key, configError(t, err).Key)
		})
	}
}

func validConfig() *Config {
	return &Config{
		VectorBackend:       BackendMemory,
		SimilarityMetric:    MetricCosine,
		EmbeddingDims:       8,
		ChunkSize:           1000,
		ChunkOverlap:        200,
		TopKDefault:         5,
		SimilarityThreshold: 0.7,
		EmbeddingProvider:   ProviderOllama,
		LLMProvider:         ProviderOllama,
		MaxRetries:          3,
		RetryBackoffBase:    500 * time.Millisecond,
		ProviderTimeout:     30 * time.Second,
		EmbedBatchSize:      32,
		ContextBudget:       12000,
		SummaryMaxChars:     2000,
		MaxHistoryTurns:     6,
		MaxConcurrentLLM:    4,
		MaxUploadBytes:      10 << 20,
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{"overlap not below chunk size", func(c *Config) { c.ChunkOverlap = 1000 }, "CHUNK_OVERLAP"},
		{"threshold above one", func(c *Config) { c.SimilarityThreshold = 1.5 }, "SIMILARITY_THRESHOLD"},
		{"zero dimensions", func(c *Config) { c.EmbeddingDims = 0 }, "EMBEDDING_DIMENSIONS"},
		{"chunk larger than budget", func(c *Config) { c.ChunkSize = 20000 }, "CONTEXT_BUDGET"},
		{"summary cap above a quarter of budget", func(c *Config) { c.SummaryMaxChars = 4000 }, "SUMMARY_MAX_CHARS"},
		{"zero llm concurrency", func(c *Config) { c.MaxConcurrentLLM = 0 }, "MAX_CONCURRENT_LLM_CALLS"},
		{"negative history turns", func(c *Config) { c.MaxHistoryTurns = -1 }, "MAX_HISTORY_TURNS"},
		{"zero upload cap", func(c *Config) { c.MaxUploadBytes = 0 }, "MAX_UPLOAD_BYTES"},
		{"unknown backend", func(c *Config) { c.VectorBackend = "sqlite" }, "VECTOR_BACKEND"},
		{"unknown metric", func(c *Config) { c.SimilarityMetric = "euclidean" }, "SIMILARITY_METRIC"},
		{"unknown llm provider", func(c *Config) { c.LLMProvider = "bedrock" }, "LLM_PROVIDER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			var cerr *models.ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tc.wantKey, cerr.Key)
		})
	}
}
