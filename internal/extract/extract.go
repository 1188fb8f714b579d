// Package extract turns a binary PDF into page-segmented plain text.
//
// Each page is whitespace-normalized independently, then pages are joined
// with a page marker so downstream consumers (and prompts) can reference
// source pages: the marker is the 1-indexed page number in brackets on its
// own line, e.g. "[12]".
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNoText is returned when a document yields zero non-empty pages.
// This is malformed input, not a transient fault; callers must not retry.
var ErrNoText = errors.New("document contains no extractable text")

// Options bound the cost of extraction.
type Options struct {
	// MaxPages caps how many pages are kept; pages beyond it are
	// dropped, not an error. Zero means no cap.
	MaxPages int
	// MaxChars hard-truncates the concatenated output. Zero means no cap.
	MaxChars int
}

// PDFExtractor extracts text from PDF buffers under fixed Options.
type PDFExtractor struct {
	opts   Options
	logger *slog.Logger

	// reader yields normalized per-page text, index 0 = page 1.
	// Swappable in tests.
	reader func(buf []byte) ([]string, error)
}

// New returns a PDFExtractor. A nil logger falls back to slog.Default.
func New(opts Options, logger *slog.Logger) *PDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFExtractor{opts: opts, logger: logger, reader: readPDF}
}

// Text extracts page-marked text from buf, applying the page and
// character caps.
func (e *PDFExtractor) Text(buf []byte) (string, error) {
	pages, err := e.reader(buf)
	if err != nil {
		return "", err
	}

	if e.opts.MaxPages > 0 && len(pages) > e.opts.MaxPages {
		e.logger.Debug("dropping pages beyond cap", "pages", len(pages), "max_pages", e.opts.MaxPages)
		pages = pages[:e.opts.MaxPages]
	}

	doc := joinPages(pages)
	if doc == "" {
		return "", ErrNoText
	}

	if e.opts.MaxChars > 0 && len(doc) > e.opts.MaxChars {
		e.logger.Warn("truncating extracted text", "chars", len(doc), "max_chars", e.opts.MaxChars)
		doc = truncateToRuneBoundary(doc, e.opts.MaxChars)
	}

	return doc, nil
}

// readPDF returns normalized per-page text. Entries for pages with no text
// are empty strings so page numbering stays aligned.
func readPDF(buf []byte) (pages []string, err error) {
	// The underlying parser panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF text extraction failed: %v", r)
		}
	}()

	// Page-count the buffer with pdfcpu first; it validates the xref
	// table and fails cleanly on corrupt downloads before the text
	// parser sees them.
	pageCount, err := api.PageCount(bytes.NewReader(buf), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid PDF: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	n := pageCount
	if rn := r.NumPage(); rn < n {
		n = rn
	}

	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// A single unreadable page is dropped; whole-document
			// failure is decided by the caller on the joined text.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, normalize(text))
	}
	return pages, nil
}

// normalize collapses runs of whitespace to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// joinPages prefixes each non-empty page with its marker and concatenates.
// Returns "" when every page is empty.
func joinPages(pages []string) string {
	var b strings.Builder
	for i, p := range pages {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d]\n%s", i+1, p)
	}
	return b.String()
}

// truncateToRuneBoundary cuts s to at most max bytes without splitting a
// multi-byte rune at the cut.
func truncateToRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
