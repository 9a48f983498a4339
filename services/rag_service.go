package services

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/storage"
)

// RAGService is the surface the HTTP layer talks to. One instance is built
// in main with its dependencies injected; nothing in this package holds
// package-level pipeline state.
type RAGService interface {
	// ProcessAndStoreDocument extracts text from an uploaded file and
	// ingests it, replacing any previous document with the same filename.
	ProcessAndStoreDocument(ctx context.Context, filename string, content []byte, metadata map[string]any) (*models.IngestResult, error)
	// AnswerQuestion retrieves relevant fragments and synthesizes a
	// grounded answer with citations.
	AnswerQuestion(ctx context.Context, req models.QueryRequest) (*models.AnswerResult, error)
	// SummarizeDocument produces a bounded summary of one stored document.
	SummarizeDocument(ctx context.Context, documentID uuid.UUID) (string, error)
	// ListDocuments returns the stored documents, newest first.
	ListDocuments(ctx context.Context) ([]models.DocumentInfo, error)
	// DeleteDocument removes a document and its fragments, returning how
	// many fragments were deleted.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) (int, error)
}

// Pipeline is the production RAGService: extraction, ingestion, retrieval,
// answering and summarization wired together over one store.
type Pipeline struct {
	extractor  *ExtractorService
	ingester   *IngestionService
	answerer   *AnswerService
	summarizer *SummaryService
	store      storage.Store
}

func NewPipeline(extractor *ExtractorService, ingester *IngestionService, answerer *AnswerService, summarizer *SummaryService, store storage.Store) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		ingester:   ingester,
		answerer:   answerer,
		summarizer: summarizer,
		store:      store,
	}
}

func (p *Pipeline) ProcessAndStoreDocument(ctx context.Context, filename string, content []byte, metadata map[string]any) (*models.IngestResult, error) {
	text, err := p.extractor.ExtractText(content, filename)
	if err != nil {
		return nil, err
	}

	result, err := p.ingester.IngestDocument(ctx, filename, text, metadata)
	if err != nil {
		return nil, err
	}
	log.Printf("SERVICE: stored '%s' as document %s (%d fragments)", filename, result.DocumentID, result.FragmentCount)
	return result, nil
}

func (p *Pipeline) AnswerQuestion(ctx context.Context, req models.QueryRequest) (*models.AnswerResult, error) {
	return p.answerer.AnswerQuestion(ctx, req)
}

func (p *Pipeline) SummarizeDocument(ctx context.Context, documentID uuid.UUID) (string, error) {
	return p.summarizer.SummarizeDocument(ctx, documentID)
}

func (p *Pipeline) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	return p.store.ListDocuments(ctx)
}

func (p *Pipeline) DeleteDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	return p.ingester.DeleteDocument(ctx, documentID)
}
