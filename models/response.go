package models

import "github.com/google/uuid"

// Citation points an answer back at the fragment that grounded it.
type Citation struct {
	FragmentID uuid.UUID `json:"fragment_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	Ordinal    int       `json:"ordinal"`
	Preview    string    `json:"preview"`
	Similarity float64   `json:"similarity"`
}

// AnswerResult is the synthesizer's output: the answer text, the fragments it
// actually cited, and the mean retrieval similarity, capped at 1, as a rough
// confidence.
type AnswerResult struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
}

// IngestResult reports a completed ingestion.
type IngestResult struct {
	DocumentID    uuid.UUID `json:"document_id"`
	Filename      string    `json:"filename"`
	FragmentCount int       `json:"fragment_count"`
}

type ListDocumentsResponse struct {
	Count     int            `json:"count"`
	Documents []DocumentInfo `json:"documents"`
}

type SummaryResponse struct {
	DocumentID uuid.UUID `json:"document_id"`
	Summary    string    `json:"summary"`
}

type DeleteDocumentResponse struct {
	DocumentID       uuid.UUID `json:"document_id"`
	FragmentsDeleted int       `json:"fragments_deleted"`
}
