package services

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/storage"
)

// metaChunkOverlap is the document metadata key recording the overlap the
// document's fragments were cut with.
const metaChunkOverlap = "chunk_overlap"

// IngestionService owns the write path for documents: split, embed, and
// atomically replace whatever was stored before. All writes to one document
// serialize on a per-document lock, so concurrent uploads of the same file
// cannot interleave their fragment sets.
type IngestionService struct {
	splitter *Splitter
	embedder Embedder
	store    storage.Store
	locks    *keyedMutex
}

func NewIngestionService(splitter *Splitter, embedder Embedder, store storage.Store) *IngestionService {
	return &IngestionService{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		locks:    newKeyedMutex(),
	}
}

// IngestDocument validates, splits, embeds, and persists one document. The
// document id derives from the filename, so ingesting the same name again
// replaces the previous fragment set instead of accumulating duplicates.
// Every fragment inherits the document metadata, with the fixed filename and
// ordinal keys set on top. Nothing is written unless every fragment embedded
// successfully.
func (s *IngestionService) IngestDocument(ctx context.Context, filename, text string, metadata map[string]any) (*models.IngestResult, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, models.NewValidationError("filename", "must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, models.NewValidationError("text", "contains no content")
	}

	docID := models.DocumentIDForFilename(filename)
	unlock, err := s.locks.Lock(ctx, docID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	pieces := s.splitter.Split(text)
	log.Printf("SERVICE: ingesting '%s': %d characters, %d fragments", filename, len([]rune(text)), len(pieces))

	vectors, err := s.embedder.EmbedDocuments(ctx, pieces)
	if err != nil {
		return nil, err
	}

	// The stored document records the overlap its fragments were cut with,
	// so readers can rebuild contiguous text even if the configured overlap
	// changes between restarts.
	docMeta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		docMeta[k] = v
	}
	docMeta[metaChunkOverlap] = s.splitter.chunkOverlap

	doc := models.Document{
		ID:        docID,
		Filename:  filename,
		Content:   text,
		Metadata:  docMeta,
		CreatedAt: time.Now().UTC(),
	}
	fragments := make([]models.Fragment, len(pieces))
	for i, piece := range pieces {
		meta := make(map[string]any, len(docMeta)+2)
		for k, v := range docMeta {
			meta[k] = v
		}
		meta["filename"] = filename
		meta["ordinal"] = i
		fragments[i] = models.Fragment{
			ID:         models.FragmentIDFor(docID, i),
			DocumentID: docID,
			Ordinal:    i,
			Text:       piece,
			Embedding:  vectors[i],
			Metadata:   meta,
		}
	}

	if err := s.store.ReplaceFragments(ctx, doc, fragments); err != nil {
		return nil, err
	}
	log.Printf("SERVICE: stored %d fragments for '%s' (%s)", len(fragments), filename, docID)
	return &models.IngestResult{
		DocumentID:    docID,
		Filename:      filename,
		FragmentCount: len(fragments),
	}, nil
}

// DeleteDocument removes a document and its fragments under the same
// per-document lock the ingest path takes.
func (s *IngestionService) DeleteDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	unlock, err := s.locks.Lock(ctx, documentID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	removed, err := s.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	log.Printf("SERVICE: deleted document %s (%d fragments)", documentID, removed)
	return removed, nil
}
