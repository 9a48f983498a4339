package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	langembed "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"

	"github.com/documind/ragserver/config"
	"github.com/documind/ragserver/controller"
	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/services"
	"github.com/documind/ragserver/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("FATAL: could not open %s store: %v", cfg.VectorBackend, err)
	}
	defer store.Close()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		log.Fatalf("FATAL: could not create %s embedder: %v", cfg.EmbeddingProvider, err)
	}
	// A failure here means wrong credentials, an unreachable provider or a
	// dimensionality mismatch. All of those are fatal at startup.
	if err := embedder.Verify(ctx); err != nil {
		log.Fatalf("FATAL: embedding provider check failed: %v", err)
	}

	llm, err := buildLLM(ctx, cfg)
	if err != nil {
		log.Fatalf("FATAL: could not create %s chat model: %v", cfg.LLMProvider, err)
	}

	splitter, err := services.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("FATAL: invalid chunking settings: %v", err)
	}

	ingester := services.NewIngestionService(splitter, embedder, store)
	retriever := services.NewRetrievalService(embedder, store, cfg.TopKDefault, cfg.SimilarityThreshold)
	answerer := services.NewAnswerService(retriever, llm, cfg.MaxHistoryTurns)
	summarizer := services.NewSummaryService(store, llm, services.SummaryOptions{
		ChunkOverlap:     cfg.ChunkOverlap,
		ContextBudget:    cfg.ContextBudget,
		SummaryMaxChars:  cfg.SummaryMaxChars,
		MaxConcurrentLLM: cfg.MaxConcurrentLLM,
	})
	extractor := services.NewExtractorService(cfg.MaxUploadBytes)
	pipeline := services.NewPipeline(extractor, ingester, answerer, summarizer, store)

	if cfg.WatchDir != "" {
		watcher := services.NewWatcherService(pipeline, store, cfg.WatchDir)
		go watcher.Run(ctx)
	}

	ragController := controller.NewRAGController(pipeline, cfg.MaxUploadBytes)

	// Setup Gin router
	router := gin.Default()

	// CORS middleware so browser frontends can talk to the API directly.
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "RAG API",
			"backend": cfg.VectorBackend,
		})
	})

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/documents", ragController.UploadDocument)
		apiV1.GET("/documents", ragController.ListDocuments)
		apiV1.DELETE("/documents/:id", ragController.DeleteDocument)
		apiV1.POST("/documents/:id/summarize", ragController.SummarizeDocument)
		apiV1.POST("/query", ragController.QueryRAG)
	}

	log.Printf("RAG server starting on http://localhost:%s (store=%s, embeddings=%s, llm=%s)",
		cfg.Port, cfg.VectorBackend, cfg.EmbeddingProvider, cfg.LLMProvider)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: Failed to start server: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	metric := storage.MetricCosine
	if cfg.SimilarityMetric == config.MetricDot {
		metric = storage.MetricDot
	}

	switch cfg.VectorBackend {
	case config.BackendPostgres:
		return storage.NewPostgresStore(ctx, storage.PostgresOptions{
			DSN:        cfg.DatabaseURL,
			Metric:     metric,
			Dimensions: cfg.EmbeddingDims,
		})
	case config.BackendChroma:
		return storage.NewChromaStore(ctx, storage.ChromaOptions{
			URL:    cfg.ChromaURL,
			Metric: metric,
		})
	case config.BackendMemory:
		log.Println("STORE: using the in-memory store, documents will not survive a restart")
		return storage.NewMemoryStore(metric), nil
	default:
		return nil, &models.ConfigError{Key: "VECTOR_BACKEND", Reason: "unknown backend " + cfg.VectorBackend}
	}
}

func buildEmbedder(cfg *config.Config) (*services.ProviderEmbedder, error) {
	client, err := embeddingClient(cfg)
	if err != nil {
		return nil, err
	}
	return services.NewProviderEmbedder(client, services.ProviderEmbedderOptions{
		Provider:    cfg.EmbeddingProvider,
		Dimensions:  cfg.EmbeddingDims,
		BatchSize:   cfg.EmbedBatchSize,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.RetryBackoffBase,
		Timeout:     cfg.ProviderTimeout,
	}), nil
}

func embeddingClient(cfg *config.Config) (langembed.EmbedderClient, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		return openai.New(
			openai.WithToken(cfg.OpenAIKey),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
		)
	case config.ProviderOllama:
		return ollama.New(
			ollama.WithServerURL(cfg.OllamaURL),
			ollama.WithModel(cfg.EmbeddingModel),
		)
	default:
		return nil, &models.ConfigError{Key: "EMBEDDING_PROVIDER", Reason: "unknown provider " + cfg.EmbeddingProvider}
	}
}

func buildLLM(ctx context.Context, cfg *config.Config) (services.LLM, error) {
	opts := services.LLMOptions{
		Provider:    cfg.LLMProvider,
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.RetryBackoffBase,
		Timeout:     cfg.ProviderTimeout,
	}

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		model, err := openai.New(openai.WithToken(cfg.OpenAIKey), openai.WithModel(cfg.ChatModel))
		if err != nil {
			return nil, err
		}
		return services.NewChatLLM(model, opts), nil
	case config.ProviderOllama:
		model, err := ollama.New(ollama.WithServerURL(cfg.OllamaURL), ollama.WithModel(cfg.ChatModel))
		if err != nil {
			return nil, err
		}
		return services.NewChatLLM(model, opts), nil
	case config.ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, err
		}
		log.Println("Successfully connected to Google Gemini.")
		return services.NewGeminiLLM(client, cfg.ChatModel, opts), nil
	default:
		return nil, &models.ConfigError{Key: "LLM_PROVIDER", Reason: "unknown provider " + cfg.LLMProvider}
	}
}
