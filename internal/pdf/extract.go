package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrMalformed is returned when the bytes are not a readable PDF document.
var ErrMalformed = errors.New("malformed PDF document")

// Extractor converts stored document bytes to plain text.
type Extractor interface {
	ExtractText(data []byte) (string, error)
}

// TextExtractor is the PDF implementation of Extractor.
type TextExtractor struct {
	// MaxPages limits extraction to the first N pages; 0 means all pages.
	MaxPages int
}

// ExtractText implements Extractor.
func (e TextExtractor) ExtractText(data []byte) (string, error) {
	return ExtractTextReader(bytes.NewReader(data), int64(len(data)), e.MaxPages)
}

// ExtractText extracts the text of every page of a PDF, in page order.
func ExtractText(data []byte) (string, error) {
	return ExtractTextReader(bytes.NewReader(data), int64(len(data)), 0)
}

// ExtractTextReader extracts text from a PDF reader.
// Pages whose content cannot be decoded are skipped. A document that cannot
// be opened, or whose pages yield no text at all, returns an error wrapping
// ErrMalformed.
func ExtractTextReader(r io.ReaderAt, size int64, maxPages int) (text string, err error) {
	// The pdf package panics on some malformed object graphs.
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrMalformed, rec)
		}
	}()

	pdfReader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	numPages := pdfReader.NumPage()
	if maxPages <= 0 || maxPages > numPages {
		maxPages = numPages
	}

	return joinPages(maxPages, func(i int) (string, error) {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			return "", nil
		}
		return page.GetPlainText(nil)
	})
}

// joinPages concatenates the text of pages 1..n in order.
func joinPages(n int, pageText func(i int) (string, error)) (string, error) {
	var builder strings.Builder
	var firstErr error
	failed := 0
	for i := 1; i <= n; i++ {
		text, err := pageText(i)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("page %d: %v", i, err)
			}
			failed++
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	if strings.TrimSpace(builder.String()) == "" {
		if firstErr != nil {
			return "", fmt.Errorf("%w: no readable page (%d of %d failed, first %v)", ErrMalformed, failed, n, firstErr)
		}
		return "", fmt.Errorf("%w: no extractable text", ErrMalformed)
	}
	return builder.String(), nil
}

// ExtractTitle attempts to extract a title from the first page of a PDF.
// This is a best-effort heuristic; it returns "" when nothing suitable is found.
func ExtractTitle(data []byte) string {
	text, err := ExtractTextReader(bytes.NewReader(data), int64(len(data)), 1)
	if err != nil {
		return ""
	}

	// Find first substantial line (likely title)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 20 && !isHeaderLine(line) {
			return line
		}
	}

	return ""
}

// isHeaderLine checks if a line is likely a header/footer.
func isHeaderLine(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "journal") {
		return true
	}
	if strings.Contains(lower, "volume") && strings.Contains(lower, "issue") {
		return true
	}
	if strings.Contains(lower, "copyright") {
		return true
	}
	if strings.Contains(lower, "all rights reserved") {
		return true
	}
	return false
}
