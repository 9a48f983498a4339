package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/documind/ragserver/models"
)

// Vector store backends.
const (
	BackendPostgres = "postgres"
	BackendChroma   = "chroma"
	BackendMemory   = "memory"
)

// Model providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Similarity metrics. The metric is fixed at startup because the store's
// result ordering contract depends on it.
const (
	MetricCosine = "cosine"
	MetricDot    = "dot"
)

// Config holds everything the pipeline reads from the environment. It is
// loaded once in main and passed by reference; nothing re-reads the
// environment after startup.
type Config struct {
	DatabaseURL   string
	VectorBackend string
	ChromaURL     string

	EmbeddingDims       int
	SimilarityMetric    string
	ChunkSize           int
	ChunkOverlap        int
	TopKDefault         int
	SimilarityThreshold float64

	EmbeddingProvider string
	EmbeddingModel    string
	LLMProvider       string
	ChatModel         string
	OpenAIKey         string
	GeminiKey         string
	OllamaURL         string

	MaxRetries       int
	RetryBackoffBase time.Duration
	ProviderTimeout  time.Duration
	EmbedBatchSize   int

	ContextBudget    int
	SummaryMaxChars  int
	MaxHistoryTurns  int
	MaxConcurrentLLM int

	MaxUploadBytes int64
	WatchDir       string
	Port           string
}

// Load reads the configuration from the environment and validates it.
// Invalid values fail here, at startup, rather than on the first request
// that happens to need them.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		VectorBackend: envString("VECTOR_BACKEND", BackendPostgres),
		ChromaURL:     envString("CHROMA_URL", "http://localhost:8000"),

		SimilarityMetric: envString("SIMILARITY_METRIC", MetricCosine),

		EmbeddingProvider: envString("EMBEDDING_PROVIDER", ProviderOpenAI),
		EmbeddingModel:    envString("EMBEDDING_MODEL", "text-embedding-3-small"),
		LLMProvider:       envString("LLM_PROVIDER", ProviderOpenAI),
		ChatModel:         envString("CHAT_MODEL", "gpt-3.5-turbo"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiKey:         os.Getenv("GEMINI_API_KEY"),
		OllamaURL:         envString("OLLAMA_URL", "http://localhost:11434"),

		WatchDir: os.Getenv("WATCH_DIR"),
		Port:     envString("PORT", "8080"),
	}

	var err error
	if cfg.EmbeddingDims, err = envInt("EMBEDDING_DIMENSIONS", 1536); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = envInt("CHUNK_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = envInt("CHUNK_OVERLAP", 200); err != nil {
		return nil, err
	}
	if cfg.TopKDefault, err = envInt("TOP_K_DEFAULT", 5); err != nil {
		return nil, err
	}
	if cfg.SimilarityThreshold, err = envFloat("SIMILARITY_THRESHOLD", 0.7); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBackoffBase, err = envDuration("RETRY_BACKOFF_BASE", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeout, err = envDuration("PROVIDER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize, err = envInt("EMBED_BATCH_SIZE", 32); err != nil {
		return nil, err
	}
	if cfg.ContextBudget, err = envInt("CONTEXT_BUDGET", 12000); err != nil {
		return nil, err
	}
	if cfg.SummaryMaxChars, err = envInt("SUMMARY_MAX_CHARS", 2000); err != nil {
		return nil, err
	}
	if cfg.MaxHistoryTurns, err = envInt("MAX_HISTORY_TURNS", 6); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentLLM, err = envInt("MAX_CONCURRENT_LLM_CALLS", 4); err != nil {
		return nil, err
	}
	maxUpload, err := envInt("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants. It is exported so tests can build
// configs by hand.
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return &models.ConfigError{Key: "DATABASE_URL", Reason: "required for the postgres backend"}
		}
	case BackendChroma, BackendMemory:
	default:
		return &models.ConfigError{Key: "VECTOR_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.VectorBackend)}
	}

	if c.SimilarityMetric != MetricCosine && c.SimilarityMetric != MetricDot {
		return &models.ConfigError{Key: "SIMILARITY_METRIC", Reason: fmt.Sprintf("unknown metric %q", c.SimilarityMetric)}
	}
	if c.EmbeddingDims <= 0 {
		return &models.ConfigError{Key: "EMBEDDING_DIMENSIONS", Reason: "must be positive"}
	}
	if c.ChunkSize <= 0 {
		return &models.ConfigError{Key: "CHUNK_SIZE", Reason: "must be positive"}
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return &models.ConfigError{Key: "CHUNK_OVERLAP", Reason: "must satisfy 0 <= overlap < chunk size"}
	}
	if c.TopKDefault <= 0 {
		return &models.ConfigError{Key: "TOP_K_DEFAULT", Reason: "must be positive"}
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return &models.ConfigError{Key: "SIMILARITY_THRESHOLD", Reason: "must be within [0, 1]"}
	}
	if c.MaxRetries < 0 {
		return &models.ConfigError{Key: "MAX_RETRIES", Reason: "must not be negative"}
	}
	if c.RetryBackoffBase <= 0 {
		return &models.ConfigError{Key: "RETRY_BACKOFF_BASE", Reason: "must be positive"}
	}
	if c.ProviderTimeout <= 0 {
		return &models.ConfigError{Key: "PROVIDER_TIMEOUT", Reason: "must be positive"}
	}
	if c.EmbedBatchSize <= 0 {
		return &models.ConfigError{Key: "EMBED_BATCH_SIZE", Reason: "must be positive"}
	}
	if c.ContextBudget <= 0 {
		return &models.ConfigError{Key: "CONTEXT_BUDGET", Reason: "must be positive"}
	}
	if c.ChunkSize > c.ContextBudget {
		return &models.ConfigError{Key: "CONTEXT_BUDGET", Reason: "must be at least CHUNK_SIZE"}
	}
	// Each map-reduce round emits at most ceil(len/budget) summaries of at
	// most SummaryMaxChars runes, so cap*4 <= budget keeps every round
	// strictly smaller than its input.
	if c.SummaryMaxChars <= 0 || c.SummaryMaxChars*4 > c.ContextBudget {
		return &models.ConfigError{Key: "SUMMARY_MAX_CHARS", Reason: "must be positive and at most a quarter of CONTEXT_BUDGET"}
	}
	if c.MaxHistoryTurns < 0 {
		return &models.ConfigError{Key: "MAX_HISTORY_TURNS", Reason: "must not be negative"}
	}
	if c.MaxConcurrentLLM <= 0 {
		return &models.ConfigError{Key: "MAX_CONCURRENT_LLM_CALLS", Reason: "must be positive"}
	}
	if c.MaxUploadBytes <= 0 {
		return &models.ConfigError{Key: "MAX_UPLOAD_BYTES", Reason: "must be positive"}
	}

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			return &models.ConfigError{Key: "OPENAI_API_KEY", Reason: "required for the openai embedding provider"}
		}
	case ProviderOllama:
	default:
		return &models.ConfigError{Key: "EMBEDDING_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", c.EmbeddingProvider)}
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			return &models.ConfigError{Key: "OPENAI_API_KEY", Reason: "required for the openai llm provider"}
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			return &models.ConfigError{Key: "GEMINI_API_KEY", Reason: "required for the gemini llm provider"}
		}
	case ProviderOllama:
	default:
		return &models.ConfigError{Key: "LLM_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", c.LLMProvider)}
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &models.ConfigError{Key: key, Reason: fmt.Sprintf("not an integer: %q", v)}
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &models.ConfigError{Key: key, Reason: fmt.Sprintf("not a number: %q", v)}
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &models.ConfigError{Key: key, Reason: fmt.Sprintf("not a duration: %q", v)}
	}
	return d, nil
}
