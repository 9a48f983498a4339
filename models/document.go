package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// documentNamespace is the UUIDv5 namespace for ids derived from filenames.
// Deriving the id from the filename means re-uploading a file replaces its
// previous fragments instead of duplicating them.
var documentNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Document is a logical unit uploaded by a user. The raw extracted text is
// kept alongside the fragments so a document can be re-chunked without
// re-uploading.
type Document struct {
	ID        uuid.UUID
	Filename  string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Fragment is a contiguous slice of a document's text plus its embedding.
// Fragments are owned by their document and are deleted with it.
type Fragment struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Ordinal    int
	Text       string
	Embedding  []float32
	Metadata   map[string]any
}

// ScoredFragment pairs a fragment with its similarity to a query embedding.
type ScoredFragment struct {
	Fragment
	Score float64
}

// DocumentInfo is the listing view of a stored document.
type DocumentInfo struct {
	ID            uuid.UUID `json:"id"`
	Filename      string    `json:"filename"`
	UploadedAt    time.Time `json:"uploaded_at"`
	FragmentCount int       `json:"fragment_count"`
}

// ConversationTurn is one prior question/answer exchange. Turns live only as
// long as the caller keeps resending them; nothing about a conversation is
// persisted server-side.
type ConversationTurn struct {
	Question         string      `json:"question"`
	Answer           string      `json:"answer"`
	CitedFragmentIDs []uuid.UUID `json:"cited_fragment_ids,omitempty"`
}

// DocumentIDForFilename derives the stable document id for a filename.
func DocumentIDForFilename(filename string) uuid.UUID {
	return uuid.NewSHA1(documentNamespace, []byte(filename))
}

// FragmentIDFor derives the stable fragment id for a document ordinal.
// Identical input re-ingested yields identical fragment ids, which is what
// makes fragment upserts idempotent.
func FragmentIDFor(documentID uuid.UUID, ordinal int) uuid.UUID {
	return uuid.NewSHA1(documentID, []byte("fragment:"+strconv.Itoa(ordinal)))
}
