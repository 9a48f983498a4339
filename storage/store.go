// Package storage persists documents and their embedded fragments and
// answers nearest-neighbour queries over the fragment embeddings. Three
// backends implement the same contract: postgres (pgvector), chroma, and an
// in-process memory store.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
)

// Metric selects the similarity function. It is fixed when a store is
// constructed because the result ordering contract depends on it.
type Metric string

const (
	// MetricCosine scores results with cosine similarity in [-1, 1].
	MetricCosine Metric = "cosine"
	// MetricDot scores results with the raw inner product.
	MetricDot Metric = "dot"
)

// QueryOptions narrows a similarity query.
type QueryOptions struct {
	// DocumentID limits results to fragments of one document when non-nil.
	DocumentID *uuid.UUID
}

// Store is the vector-search interface the pipeline is built against.
//
// Ordering contract: Query returns results sorted by descending similarity,
// ties broken by ascending fragment id (bytewise), so identical inputs
// always produce identical result sequences. k is clamped to the number of
// stored fragments; querying an empty store returns an empty slice.
type Store interface {
	// SaveDocument inserts or updates a document record by id.
	SaveDocument(ctx context.Context, doc models.Document) error

	// UpsertFragments inserts fragments, replacing any existing fragment
	// with the same id.
	UpsertFragments(ctx context.Context, fragments []models.Fragment) error

	// ReplaceFragments atomically swaps a document's fragment set: the
	// document record is upserted, its previous fragments are removed, and
	// the given fragments are written, as one logical operation. On failure
	// the document is left with no partially written fragment set.
	ReplaceFragments(ctx context.Context, doc models.Document, fragments []models.Fragment) error

	// Query returns up to k fragments nearest to embedding.
	Query(ctx context.Context, embedding []float32, k int, opts QueryOptions) ([]models.ScoredFragment, error)

	// FragmentsByDocument returns a document's fragments in ordinal order.
	// Embeddings are not populated; callers here want the text.
	FragmentsByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Fragment, error)

	// GetDocument returns the stored document record or
	// models.ErrDocumentNotFound.
	GetDocument(ctx context.Context, documentID uuid.UUID) (models.Document, error)

	// DeleteDocument removes the document and all its fragments, returning
	// the number of fragments removed. Unknown ids report
	// models.ErrDocumentNotFound.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) (int, error)

	// ListDocuments returns all documents, newest first, with their
	// fragment counts.
	ListDocuments(ctx context.Context) ([]models.DocumentInfo, error)

	Close()
}
