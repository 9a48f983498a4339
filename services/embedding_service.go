package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/documind/ragserver/models"
)

// retryCap bounds a single backoff sleep regardless of how many attempts the
// budget allows.
const retryCap = 10 * time.Second

// Embedder turns text into vectors. Implementations must return one vector
// per input, in input order, or fail the whole call; partial results never
// reach a store.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ProviderEmbedder adapts a langchaingo embedding client (OpenAI or Ollama)
// to the Embedder interface. It batches inputs, retries each batch with
// exponential backoff, and enforces the configured vector width.
type ProviderEmbedder struct {
	client     embeddings.EmbedderClient
	provider   string
	dimensions int
	batchSize  int
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
}

// ProviderEmbedderOptions carries the tunables NewProviderEmbedder needs.
type ProviderEmbedderOptions struct {
	Provider    string
	Dimensions  int
	BatchSize   int
	MaxRetries  int
	BackoffBase time.Duration
	Timeout     time.Duration
}

func NewProviderEmbedder(client embeddings.EmbedderClient, opts ProviderEmbedderOptions) *ProviderEmbedder {
	return &ProviderEmbedder{
		client:     client,
		provider:   opts.Provider,
		dimensions: opts.Dimensions,
		batchSize:  opts.BatchSize,
		maxRetries: opts.MaxRetries,
		backoff:    opts.BackoffBase,
		timeout:    opts.Timeout,
	}
}

func (e *ProviderEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			if len(vec) != e.dimensions {
				return nil, &models.ConfigError{
					Key: "EMBEDDING_DIMENSIONS",
					Reason: fmt.Sprintf("%s model returned %d-dimensional vectors for input %d, configured %d",
						e.provider, len(vec), start+i, e.dimensions),
				}
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *ProviderEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Verify embeds one short input so provider reachability and vector width
// fail at startup instead of on the first request.
func (e *ProviderEmbedder) Verify(ctx context.Context) error {
	if _, err := e.EmbedDocuments(ctx, []string{"connectivity check"}); err != nil {
		return err
	}
	log.Printf("SERVICE: %s embedding provider verified (%d dimensions)", e.provider, e.dimensions)
	return nil
}

func (e *ProviderEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var (
		out      [][]float32
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(e.maxRetries),
		retry.WithCappedDuration(retryCap, retry.NewExponential(e.backoff)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		vectors, err := e.client.CreateEmbedding(callCtx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("SERVICE: %s embedding attempt %d failed: %v", e.provider, attempts, err)
			return retry.RetryableError(err)
		}
		if len(vectors) != len(texts) {
			return retry.RetryableError(fmt.Errorf("provider returned %d embeddings for %d inputs", len(vectors), len(texts)))
		}
		out = vectors
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ProviderError{Provider: e.provider, Attempts: attempts, Err: err}
	}
	return out, nil
}
