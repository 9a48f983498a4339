package services

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	"github.com/documind/ragserver/models"
)

func init() {
	// The unipdf license must be registered before the first PDF is opened.
	// Load .env here too: package init can run before main reads it.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}
	if err := license.SetMeteredKey(os.Getenv("UNIDOC_LICENSE_KEY")); err != nil {
		log.Printf("EXTRACTOR: unipdf license key not set: %v. PDF extraction will fail.", err)
	}
}

// ExtractorService turns uploaded files into plain UTF-8 text. Supported
// types are .txt and .md (read as UTF-8) and .pdf (through unipdf). Anything
// else, .docx included, is rejected with a validation error.
type ExtractorService struct {
	maxBytes int64
}

// NewExtractorService creates an extractor that rejects files larger than
// maxBytes. A maxBytes of zero disables the size check.
func NewExtractorService(maxBytes int64) *ExtractorService {
	return &ExtractorService{maxBytes: maxBytes}
}

// ExtractText extracts the text of a single file. Line endings are
// normalized to \n so fragment boundaries do not depend on the platform
// the file was written on.
func (s *ExtractorService) ExtractText(content []byte, filename string) (string, error) {
	if len(content) == 0 {
		return "", models.NewValidationError("file", "is empty")
	}
	if s.maxBytes > 0 && int64(len(content)) > s.maxBytes {
		return "", models.NewValidationError("file", fmt.Sprintf("exceeds the %d byte limit", s.maxBytes))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md":
		if !utf8.Valid(content) {
			return "", models.NewValidationError("file", "is not valid UTF-8")
		}
		return normalizeNewlines(string(content)), nil
	case ".pdf":
		text, err := extractPDFText(content)
		if err != nil {
			return "", models.NewValidationError("file", fmt.Sprintf("unreadable PDF: %v", err))
		}
		return normalizeNewlines(text), nil
	default:
		return "", models.NewValidationError("file", fmt.Sprintf("unsupported type %q (supported: .txt, .md, .pdf)", ext))
	}
}

func extractPDFText(content []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("could not open PDF: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("could not get page count: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return "", fmt.Errorf("could not get page %d: %w", i, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", fmt.Errorf("could not create extractor for page %d: %w", i, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", fmt.Errorf("could not extract text from page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
