package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rebuild undoes the splitter's overlap: every fragment after the first
// repeats the previous fragment's final `overlap` runes.
func rebuild(fragments []string, overlap int) string {
	if len(fragments) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fragments[0])
	for _, f := range fragments[1:] {
		b.WriteString(string([]rune(f)[overlap:]))
	}
	return b.String()
}

func TestNewSplitterValidation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{name: "valid", size: 1000, overlap: 200},
		{name: "zero overlap", size: 100, overlap: 0},
		{name: "zero size", size: 0, overlap: 0, wantErr: true},
		{name: "negative overlap", size: 100, overlap: -1, wantErr: true},
		{name: "overlap equals size", size: 100, overlap: 100, wantErr: true},
		{name: "overlap exceeds size", size: 100, overlap: 150, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.size, tt.overlap)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSplitEmptyText(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)
	assert.Empty(t, s.Split(""))
}

func TestSplitShortText(t *testing.T) {
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)

	got := s.Split("a short note")
	require.Len(t, got, 1)
	assert.Equal(t, "a short note", got[0])
}

func TestSplitExampleScenario(t *testing.T) {
	// 3000 uniform characters, size 1000, overlap 200: cuts land on the hard
	// limit, giving fragments of 1000/1000/1000/600 runes.
	s, err := NewSplitter(1000, 200)
	require.NoError(t, err)

	text := strings.Repeat("a", 3000)
	got := s.Split(text)
	require.Len(t, got, 4)
	assert.Len(t, got[0], 1000)
	assert.Len(t, got[1], 1000)
	assert.Len(t, got[2], 1000)
	assert.Len(t, got[3], 600)

	// Fragment 0 and fragment 1 share exactly 200 characters.
	assert.Equal(t, got[0][800:], got[1][:200])
	assert.Equal(t, text, rebuild(got, 200))
}

func TestSplitReconstructsInput(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
	}{
		{
			name: "prose with paragraphs", size: 120, overlap: 20,
			text: strings.Repeat("The quick brown fox jumps over the lazy dog. It keeps running.\n\n", 20),
		},
		{
			name: "no boundaries at all", size: 64, overlap: 16,
			text: strings.Repeat("x", 1000),
		},
		{
			name: "multibyte runes", size: 50, overlap: 10,
			text: strings.Repeat("цифровые документы храня́тся надёжно. ", 30),
		},
		{
			name: "zero overlap", size: 80, overlap: 0,
			text: strings.Repeat("alpha beta gamma delta epsilon. ", 40),
		},
		{
			name: "newline separated lines", size: 100, overlap: 25,
			text: strings.Repeat("line of a structured log file\n", 50),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter(tt.size, tt.overlap)
			require.NoError(t, err)

			got := s.Split(tt.text)
			require.NotEmpty(t, got)
			for i, f := range got {
				assert.LessOrEqual(t, len([]rune(f)), tt.size, "fragment %d too long", i)
			}
			assert.Equal(t, tt.text, rebuild(got, tt.overlap))
		})
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	s, err := NewSplitter(90, 15)
	require.NoError(t, err)

	text := strings.Repeat("Retrieval beats memorization. Ask the index, not the model!\n", 25)
	first := s.Split(text)
	second := s.Split(text)
	assert.Equal(t, first, second)
}

func TestSplitPrefersParagraphBreak(t *testing.T) {
	s, err := NewSplitter(1000, 100)
	require.NoError(t, err)

	text := strings.Repeat("a", 800) + "\n\n" + strings.Repeat("b", 500)
	got := s.Split(text)
	require.GreaterOrEqual(t, len(got), 2)
	// The first cut lands right after the paragraph break, not at the hard
	// limit inside the second paragraph.
	assert.True(t, strings.HasSuffix(got[0], "\n\n"), "fragment should end at the paragraph break")
	assert.Len(t, got[0], 802)
}

func TestSplitPrefersSentenceOverWord(t *testing.T) {
	s, err := NewSplitter(100, 10)
	require.NoError(t, err)

	// One sentence end well inside the window, then plain words up to the
	// hard limit.
	text := strings.Repeat("w", 48) + ". " + strings.Repeat("word ", 30)
	got := s.Split(text)
	require.GreaterOrEqual(t, len(got), 2)
	assert.True(t, strings.HasSuffix(got[0], ". "), "fragment should end after the sentence")
}

func TestSplitNeverStalls(t *testing.T) {
	// Overlap one below size is the worst case for forward progress.
	s, err := NewSplitter(10, 9)
	require.NoError(t, err)

	text := strings.Repeat("ab ", 40)
	got := s.Split(text)
	require.NotEmpty(t, got)
	assert.Equal(t, text, rebuild(got, 9))
}
