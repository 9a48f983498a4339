package services

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/storage"
)

// RetrievalService embeds questions and finds the stored fragments most
// similar to them. Results below the similarity threshold are dropped, so an
// empty result means the corpus holds nothing relevant, not that it is empty.
type RetrievalService struct {
	embedder  Embedder
	store     storage.Store
	topK      int
	threshold float64
}

func NewRetrievalService(embedder Embedder, store storage.Store, topK int, threshold float64) *RetrievalService {
	return &RetrievalService{
		embedder:  embedder,
		store:     store,
		topK:      topK,
		threshold: threshold,
	}
}

// Retrieve returns the fragments scoring at or above the threshold, best
// first. k <= 0 falls back to the configured default; documentID, when
// non-nil, scopes the search to one document.
func (s *RetrievalService) Retrieve(ctx context.Context, question string, k int, documentID *uuid.UUID) ([]models.ScoredFragment, error) {
	if strings.TrimSpace(question) == "" {
		return nil, models.NewValidationError("question", "must not be empty")
	}
	if k <= 0 {
		k = s.topK
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	scored, err := s.store.Query(ctx, vector, k, storage.QueryOptions{DocumentID: documentID})
	if err != nil {
		return nil, err
	}

	kept := make([]models.ScoredFragment, 0, len(scored))
	for _, sf := range scored {
		if sf.Score >= s.threshold {
			kept = append(kept, sf)
		}
	}
	log.Printf("SERVICE: retrieval kept %d of %d fragments (threshold %.2f)", len(kept), len(scored), s.threshold)
	return kept, nil
}
