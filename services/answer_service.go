package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/documind/ragserver/models"
)

const (
	// noAnswerFound is returned verbatim when retrieval finds nothing above
	// the similarity threshold. No completion call is made in that case.
	noAnswerFound = "I couldn't find any relevant information to answer your question."

	answerTemperature = 0.1
	previewChars      = 200
)

const answerSystemPrompt = `You are a careful assistant that answers questions about the user's documents.

Rules you must follow:
1. Answer using ONLY the numbered source excerpts provided with the question.
2. Mark every claim with the matching source marker, e.g. [S1] or [S3]. Combine markers when a claim draws on several excerpts.
3. Keep answers concise and direct.
4. If the excerpts do not contain the answer, say that the documents do not cover it. Do not invent information.`

var citationPattern = regexp.MustCompile(`\[S(\d+)\]`)

// AnswerService produces grounded answers: retrieve the best fragments, ask
// the model to answer from them alone, and map the [S#] markers it emits back
// to citations.
type AnswerService struct {
	retriever       *RetrievalService
	llm             LLM
	maxHistoryTurns int
}

// NewAnswerService builds a synthesizer keeping at most maxHistoryTurns
// prior turns per request; zero means no history reaches the prompt.
func NewAnswerService(retriever *RetrievalService, llm LLM, maxHistoryTurns int) *AnswerService {
	if maxHistoryTurns < 0 {
		maxHistoryTurns = 0
	}
	return &AnswerService{
		retriever:       retriever,
		llm:             llm,
		maxHistoryTurns: maxHistoryTurns,
	}
}

// AnswerQuestion runs the full query flow. When nothing scores above the
// threshold it short-circuits with a fixed answer and zero confidence rather
// than letting the model guess.
func (s *AnswerService) AnswerQuestion(ctx context.Context, req models.QueryRequest) (*models.AnswerResult, error) {
	var docID *uuid.UUID
	if trimmed := strings.TrimSpace(req.DocumentID); trimmed != "" {
		id, err := uuid.Parse(trimmed)
		if err != nil {
			return nil, models.NewValidationError("document_id", "must be a valid UUID")
		}
		docID = &id
	}

	retrieved, err := s.retriever.Retrieve(ctx, req.Question, req.K, docID)
	if err != nil {
		return nil, err
	}
	if len(retrieved) == 0 {
		log.Printf("SERVICE: nothing above threshold for question, answering without the model")
		return &models.AnswerResult{
			Answer:     noAnswerFound,
			Citations:  []models.Citation{},
			Confidence: 0,
		}, nil
	}

	history := req.History
	if len(history) > s.maxHistoryTurns {
		history = history[len(history)-s.maxHistoryTurns:]
	}

	answer, err := s.llm.Complete(ctx, CompletionRequest{
		System:      answerSystemPrompt,
		History:     history,
		Prompt:      buildAnswerPrompt(req.Question, retrieved),
		Temperature: answerTemperature,
	})
	if err != nil {
		return nil, err
	}

	var sum float64
	for _, sf := range retrieved {
		sum += sf.Score
	}
	// Dot-product scores are unbounded, so the mean can pass 1.
	confidence := sum / float64(len(retrieved))
	if confidence > 1 {
		confidence = 1
	}

	cited := citedFragments(answer, retrieved)
	citations := make([]models.Citation, 0, len(cited))
	for _, sf := range cited {
		citations = append(citations, models.Citation{
			FragmentID: sf.ID,
			DocumentID: sf.DocumentID,
			Filename:   fragmentFilename(sf.Fragment),
			Ordinal:    sf.Ordinal,
			Preview:    preview(sf.Text, previewChars),
			Similarity: sf.Score,
		})
	}
	return &models.AnswerResult{
		Answer:     answer,
		Citations:  citations,
		Confidence: confidence,
	}, nil
}

func buildAnswerPrompt(question string, retrieved []models.ScoredFragment) string {
	var sb strings.Builder
	sb.WriteString("Source excerpts:\n\n")
	for i, sf := range retrieved {
		name := fragmentFilename(sf.Fragment)
		if name == "" {
			name = sf.DocumentID.String()
		}
		fmt.Fprintf(&sb, "[S%d] %s (fragment %d):\n%s\n\n", i+1, name, sf.Ordinal, sf.Text)
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}

// citedFragments maps the [S#] markers in the answer back to retrieved
// fragments. Markers outside the source range are ignored; an answer with no
// usable markers keeps every retrieved fragment as its grounding.
func citedFragments(answer string, retrieved []models.ScoredFragment) []models.ScoredFragment {
	var indices []int
	seen := make(map[int]bool)
	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(retrieved) || seen[n] {
			continue
		}
		seen[n] = true
		indices = append(indices, n)
	}
	if len(indices) == 0 {
		return retrieved
	}
	sort.Ints(indices)
	out := make([]models.ScoredFragment, 0, len(indices))
	for _, n := range indices {
		out = append(out, retrieved[n-1])
	}
	return out
}

func fragmentFilename(f models.Fragment) string {
	if v, ok := f.Metadata["filename"].(string); ok {
		return v
	}
	return ""
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
