// Package classify decides whether a document is born-digital or needs OCR.
package classify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/observability"
)

// TextSource exposes the text layer of a PDF.
type TextSource interface {
	Open(path string) (TextDocument, error)
}

// TextDocument is an opened PDF.
type TextDocument interface {
	NumPage() int
	Text(page int) (string, error)
	Close() error
}

// Config holds the born-digital heuristic thresholds.
type Config struct {
	TextRatioThreshold float64
	CharsPerPage       int
}

// Classifier measures the extractable text density of a PDF. Images have no
// text layer and are always scanned.
type Classifier struct {
	source TextSource
	cfg    Config
	logger *observability.Logger
}

// New creates a classifier reading text through source.
func New(source TextSource, cfg Config, logger *observability.Logger) *Classifier {
	if cfg.CharsPerPage <= 0 {
		cfg.CharsPerPage = 1000
	}
	if cfg.TextRatioThreshold <= 0 {
		cfg.TextRatioThreshold = 0.1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Classifier{source: source, cfg: cfg, logger: logger}
}

// Classify returns born_digital when the text ratio reaches the threshold.
func (c *Classifier) Classify(ctx context.Context, ws domain.Workspace, doc domain.Document) (domain.Classification, error) {
	path, err := ws.Path(doc.Name)
	if err != nil {
		return domain.ClassificationUnknown, domain.ValidationError("resolve document", err)
	}

	format, err := sniffFile(path)
	if err != nil {
		return domain.ClassificationUnknown, err
	}
	if format.IsImage() {
		return domain.ClassificationScanned, nil
	}

	ratio, pages, err := c.TextRatio(ctx, path)
	if err != nil {
		return domain.ClassificationUnknown, err
	}

	verdict := domain.ClassificationBornDigital
	if ratio < c.cfg.TextRatioThreshold {
		verdict = domain.ClassificationScanned
	}

	c.logger.WithContext(ctx).Debug().
		Str("document", doc.Name).
		Int("pages", pages).
		Float64("text_ratio", ratio).
		Str("classification", string(verdict)).
		Msg("document classified")

	return verdict, nil
}

// TextRatio returns total extractable characters divided by the expected
// character count of the document's pages.
func (c *Classifier) TextRatio(ctx context.Context, path string) (float64, int, error) {
	doc, err := c.source.Open(path)
	if err != nil {
		return 0, 0, domain.UnsupportedFormatError("document cannot be opened as PDF", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	total := 0
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return 0, pages, err
		}
		text, err := doc.Text(i)
		if err != nil {
			// unreadable page contributes no text
			continue
		}
		total += len([]rune(strings.TrimSpace(text)))
	}

	if pages < 1 {
		pages = 1
	}
	return float64(total) / float64(pages*c.cfg.CharsPerPage), doc.NumPage(), nil
}

func sniffFile(path string) (domain.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	head := make([]byte, SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read document: %w", err)
	}
	return DetectFormat(head[:n])
}
