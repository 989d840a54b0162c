package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/toolexec"
)

// Engine turns one input file into a searchable PDF at out.
type Engine interface {
	Name() string
	Supports(format domain.Format) bool
	Run(ctx context.Context, in, out string, mode domain.OCRMode) error
}

// OCRmyPDF normalizes scanned PDFs: deskew, rotate, clean and add a text layer.
type OCRmyPDF struct {
	Runner   toolexec.Runner
	Path     string
	Language string
	Jobs     int
}

func (e *OCRmyPDF) Name() string { return "ocrmypdf" }

func (e *OCRmyPDF) Supports(format domain.Format) bool { return format == domain.FormatPDF }

func (e *OCRmyPDF) Run(ctx context.Context, in, out string, mode domain.OCRMode) error {
	jobs := e.Jobs
	if jobs < 1 {
		jobs = 1
	}
	textPolicy := "--skip-text"
	if mode == domain.OCRForce {
		textPolicy = "--force-ocr"
	}
	args := []string{
		textPolicy, "--rotate-pages", "--deskew", "--clean",
		"--optimize", "1",
		"--jobs", strconv.Itoa(jobs),
	}
	if e.Language != "" {
		args = append(args, "-l", e.Language)
	}
	args = append(args, in, out)

	_, stderr, err := e.Runner.Run(ctx, orDefault(e.Path, "ocrmypdf"), args...)
	if err != nil {
		return toolError("ocrmypdf", stderr, err)
	}
	return nil
}

// Tesseract renders page images into a single-page searchable PDF.
type Tesseract struct {
	Runner   toolexec.Runner
	Path     string
	Language string
}

func (e *Tesseract) Name() string { return "tesseract" }

func (e *Tesseract) Supports(format domain.Format) bool { return format.IsImage() }

// Run ignores mode: page images never carry a text layer.
func (e *Tesseract) Run(ctx context.Context, in, out string, _ domain.OCRMode) error {
	// tesseract appends .pdf to the output base itself
	base := strings.TrimSuffix(out, ".pdf")
	args := []string{in, base}
	if e.Language != "" {
		args = append(args, "-l", e.Language)
	}
	args = append(args, "pdf")

	_, stderr, err := e.Runner.Run(ctx, orDefault(e.Path, "tesseract"), args...)
	if err != nil {
		return toolError("tesseract", stderr, err)
	}
	return nil
}

// PaddleOCR runs an operator-supplied PaddleOCR wrapper that writes a
// searchable PDF, invoked as `<command> [--lang L] <in> <out>`.
type PaddleOCR struct {
	Runner   toolexec.Runner
	Command  string
	Language string
}

func (e *PaddleOCR) Name() string { return "paddleocr" }

func (e *PaddleOCR) Supports(format domain.Format) bool {
	return format == domain.FormatPDF || format.IsImage()
}

// Run ignores mode: the wrapper always rasterizes its input.
func (e *PaddleOCR) Run(ctx context.Context, in, out string, _ domain.OCRMode) error {
	name, args, err := toolexec.SplitCommand(e.Command)
	if err != nil {
		return fmt.Errorf("paddleocr: %w", err)
	}
	if e.Language != "" {
		args = append(args, "--lang", e.Language)
	}
	args = append(args, in, out)

	_, stderr, err := e.Runner.Run(ctx, name, args...)
	if err != nil {
		return toolError("paddleocr", stderr, err)
	}
	return nil
}

func toolError(tool string, stderr []byte, err error) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return fmt.Errorf("%s: %w", tool, err)
	}
	return fmt.Errorf("%s: %w: %s", tool, err, toolexec.Truncate(msg, 512))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
