package storage

import (
	"bytes"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
)

// MemoryStore keeps documents and fragments in process memory. It backs the
// test suites and small single-node setups where running Postgres or Chroma
// is not worth the operational cost. Contents do not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	metric    Metric
	documents map[uuid.UUID]models.Document
	fragments map[uuid.UUID]models.Fragment
}

// NewMemoryStore returns an empty in-memory store scoring with metric.
func NewMemoryStore(metric Metric) *MemoryStore {
	return &MemoryStore{
		metric:    metric,
		documents: make(map[uuid.UUID]models.Document),
		fragments: make(map[uuid.UUID]models.Fragment),
	}
}

func (s *MemoryStore) SaveDocument(ctx context.Context, doc models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
	return nil
}

func (s *MemoryStore) UpsertFragments(ctx context.Context, fragments []models.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fragments {
		s.fragments[f.ID] = f
	}
	return nil
}

func (s *MemoryStore) ReplaceFragments(ctx context.Context, doc models.Document, fragments []models.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.fragments {
		if f.DocumentID == doc.ID {
			delete(s.fragments, id)
		}
	}
	s.documents[doc.ID] = doc
	for _, f := range fragments {
		s.fragments[f.ID] = f
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, embedding []float32, k int, opts QueryOptions) ([]models.ScoredFragment, error) {
	if k <= 0 {
		return []models.ScoredFragment{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]models.ScoredFragment, 0, len(s.fragments))
	for _, f := range s.fragments {
		if opts.DocumentID != nil && f.DocumentID != *opts.DocumentID {
			continue
		}
		scored = append(scored, models.ScoredFragment{
			Fragment: f,
			Score:    score(s.metric, embedding, f.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return bytes.Compare(scored[i].ID[:], scored[j].ID[:]) < 0
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *MemoryStore) FragmentsByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.documents[documentID]; !ok {
		return nil, models.ErrDocumentNotFound
	}
	var out []models.Fragment
	for _, f := range s.fragments {
		if f.DocumentID != documentID {
			continue
		}
		f.Embedding = nil
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, documentID uuid.UUID) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return models.Document{}, models.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return 0, models.ErrDocumentNotFound
	}
	removed := 0
	for id, f := range s.fragments {
		if f.DocumentID == documentID {
			delete(s.fragments, id)
			removed++
		}
	}
	delete(s.documents, documentID)
	return removed, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[uuid.UUID]int, len(s.documents))
	for _, f := range s.fragments {
		counts[f.DocumentID]++
	}
	infos := make([]models.DocumentInfo, 0, len(s.documents))
	for _, doc := range s.documents {
		infos = append(infos, models.DocumentInfo{
			ID:            doc.ID,
			Filename:      doc.Filename,
			UploadedAt:    doc.CreatedAt,
			FragmentCount: counts[doc.ID],
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UploadedAt.Equal(infos[j].UploadedAt) {
			return infos[i].UploadedAt.After(infos[j].UploadedAt)
		}
		return infos[i].Filename < infos[j].Filename
	})
	return infos, nil
}

func (s *MemoryStore) Close() {}

// score computes similarity between two vectors. Mismatched lengths and
// zero-norm vectors score 0 rather than erroring; the embedder enforces
// dimensions long before vectors get here.
func score(metric Metric, a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if metric == MetricDot {
		return dot
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
