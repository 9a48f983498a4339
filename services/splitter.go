package services

import (
	"fmt"
	"unicode"

	"github.com/documind/ragserver/models"
)

// Splitter partitions document text into overlapping fragments sized for the
// embedding window. Every fragment is an exact slice of the input and each
// fragment starts exactly chunkOverlap runes before the previous fragment's
// end, so the original text can be rebuilt by dropping the first
// chunkOverlap runes of every fragment after the first. Cut points prefer
// paragraph breaks, then line breaks, then sentence ends, then word
// boundaries, before falling back to a hard cut.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// NewSplitter validates the fragment geometry. Overlap must be smaller than
// the fragment size or splitting could not make progress.
func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, models.NewValidationError("chunk_size", "must be positive")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, models.NewValidationError("chunk_overlap", fmt.Sprintf("must satisfy 0 <= overlap < %d", chunkSize))
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Boundary classes, strongest first.
const (
	cutNone = iota
	cutWord
	cutSentence
	cutLine
	cutParagraph
)

// Split returns the fragment texts for text, in document order. Splitting is
// deterministic: the same input and geometry always produce the same
// fragments. Empty input produces no fragments.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= s.chunkSize {
		return []string{text}
	}

	var fragments []string
	start := 0
	for {
		hardEnd := start + s.chunkSize
		if hardEnd >= len(runes) {
			fragments = append(fragments, string(runes[start:]))
			return fragments
		}
		end := s.cutPoint(runes, start, hardEnd)
		fragments = append(fragments, string(runes[start:end]))
		// The next fragment re-reads the last chunkOverlap runes.
		start = end - s.chunkOverlap
	}
}

// cutPoint picks the end of the fragment that starts at start. It scans
// backward from the hard limit for the strongest boundary, never returning a
// position at or before start+chunkOverlap (the next start must advance).
func (s *Splitter) cutPoint(runes []rune, start, hardEnd int) int {
	minEnd := start + s.chunkOverlap + 1
	bestClass := cutNone
	bestAt := hardEnd
	for i := hardEnd; i >= minEnd; i-- {
		class := boundaryClass(runes, i)
		if class > bestClass {
			bestClass = class
			bestAt = i
			if class == cutParagraph {
				break
			}
		}
	}
	return bestAt
}

// boundaryClass rates a cut immediately before runes[i].
func boundaryClass(runes []rune, i int) int {
	prev := runes[i-1]
	switch {
	case prev == '\n' && i >= 2 && runes[i-2] == '\n':
		return cutParagraph
	case prev == '\n':
		return cutLine
	case unicode.IsSpace(prev) && i >= 2 && isSentenceEnd(runes[i-2]):
		return cutSentence
	case unicode.IsSpace(prev):
		return cutWord
	default:
		return cutNone
	}
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
