package models

type QueryRequest struct {
	Question string `json:"question"`
	// History carries the caller's recent turns, newest last. The synthesizer
	// bounds how many of them reach the prompt.
	History []ConversationTurn `json:"history,omitempty"`
	// K overrides the configured top-K when positive.
	K int `json:"k,omitempty"`
	// DocumentID scopes retrieval to a single document when set.
	DocumentID string `json:"document_id,omitempty"`
}
