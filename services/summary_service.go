package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/documind/ragserver/models"
	"github.com/documind/ragserver/storage"
)

const summaryTemperature = 0.1

const summarySystemPrompt = `You are a precise technical summarizer. Write plain prose that preserves the key facts, figures, and names from the text. Do not add information that is not in the text.`

// SummaryService produces document summaries with a map-reduce scheme:
// rebuild the document from its fragments, summarize budget-sized slices
// concurrently, then summarize the summaries until one fits the budget.
// Intermediate summaries are capped at maxChars, and config guarantees
// maxChars*4 <= contextBudget, so every round strictly shrinks its input and
// the reduction always terminates.
type SummaryService struct {
	store         storage.Store
	llm           LLM
	chunkOverlap  int
	contextBudget int
	maxChars      int
	maxConcurrent int
}

// SummaryOptions carries the summarizer tunables.
type SummaryOptions struct {
	ChunkOverlap     int
	ContextBudget    int
	SummaryMaxChars  int
	MaxConcurrentLLM int
}

func NewSummaryService(store storage.Store, llm LLM, opts SummaryOptions) *SummaryService {
	return &SummaryService{
		store:         store,
		llm:           llm,
		chunkOverlap:  opts.ChunkOverlap,
		contextBudget: opts.ContextBudget,
		maxChars:      opts.SummaryMaxChars,
		maxConcurrent: opts.MaxConcurrentLLM,
	}
}

// SummarizeDocument summarizes the whole document, not just the fragments a
// query would retrieve. Documents that fit the context budget take a single
// completion call.
func (s *SummaryService) SummarizeDocument(ctx context.Context, documentID uuid.UUID) (string, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	fragments, err := s.store.FragmentsByDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if len(fragments) == 0 {
		return "", models.ErrDocumentNotFound
	}

	pieces := overlapStripped(fragments, s.overlapFor(doc))
	for round := 1; ; round++ {
		// Fragments are contiguous document slices; later rounds carry
		// independent summaries, joined with blank lines.
		sep := ""
		if round > 1 {
			sep = "\n\n"
		}

		total := (len(pieces) - 1) * len([]rune(sep))
		for _, p := range pieces {
			total += len([]rune(p))
		}
		if total <= s.contextBudget {
			summary, err := s.summarizeOnce(ctx, strings.Join(pieces, sep), true)
			if err != nil {
				return "", err
			}
			log.Printf("SERVICE: summarized document %s in %d round(s)", documentID, round)
			return summary, nil
		}

		groups := packGroups(pieces, s.contextBudget, sep)
		log.Printf("SERVICE: summary round %d for %s: %d pieces -> %d groups", round, documentID, len(pieces), len(groups))

		summaries := make([]string, len(groups))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.maxConcurrent)
		for i, group := range groups {
			g.Go(func() error {
				summary, err := s.summarizeOnce(gctx, group, false)
				if err != nil {
					return err
				}
				summaries[i] = summary
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		pieces = summaries
	}
}

// overlapFor returns the overlap the document's fragments were cut with.
// Rebuilding with any other value corrupts the text, so the value recorded
// at ingestion wins over the configured one. Durable backends hand metadata
// back through JSON, where numbers arrive as float64. Documents stored
// before the overlap was recorded fall back to the configured value.
func (s *SummaryService) overlapFor(doc models.Document) int {
	switch v := doc.Metadata[metaChunkOverlap].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return s.chunkOverlap
}

func (s *SummaryService) summarizeOnce(ctx context.Context, text string, final bool) (string, error) {
	prompt := fmt.Sprintf("Summarize the following section of a document in at most %d characters. Keep concrete facts, figures, and names.\n\nText:\n%s", s.maxChars, text)
	if final {
		prompt = fmt.Sprintf("Write a summary of the document below in at most %d characters. Keep concrete facts, figures, and names.\n\nDocument:\n%s", s.maxChars, text)
	}
	out, err := s.llm.Complete(ctx, CompletionRequest{
		System:      summarySystemPrompt,
		Prompt:      prompt,
		Temperature: summaryTemperature,
	})
	if err != nil {
		return "", err
	}
	return truncateRunes(out, s.maxChars), nil
}

// overlapStripped rebuilds the document as contiguous pieces: the first
// fragment whole, every later one minus the overlap it repeats from its
// predecessor. Joining the pieces yields the original text.
func overlapStripped(fragments []models.Fragment, overlap int) []string {
	pieces := make([]string, 0, len(fragments))
	for i, f := range fragments {
		if i == 0 || overlap <= 0 {
			pieces = append(pieces, f.Text)
			continue
		}
		runes := []rune(f.Text)
		if len(runes) <= overlap {
			continue
		}
		pieces = append(pieces, string(runes[overlap:]))
	}
	return pieces
}

// packGroups greedily joins consecutive pieces into groups of at most budget
// runes. A piece larger than the budget becomes its own group rather than
// being dropped.
func packGroups(pieces []string, budget int, sep string) []string {
	sepLen := len([]rune(sep))
	groups := []string{}
	var current []string
	size := 0
	for _, piece := range pieces {
		added := len([]rune(piece))
		if len(current) > 0 {
			added += sepLen
		}
		if len(current) > 0 && size+added > budget {
			groups = append(groups, strings.Join(current, sep))
			current = nil
			size = 0
			added = len([]rune(piece))
		}
		current = append(current, piece)
		size += added
	}
	if len(current) > 0 {
		groups = append(groups, strings.Join(current, sep))
	}
	return groups
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit]))
}
