// Package ocr produces text-searchable PDFs from scanned documents by
// delegating to external OCR tools.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/observability"
)

// Stage tries each configured engine in order. The first engine that
// supports the document format and succeeds wins.
type Stage struct {
	engines []Engine
	logger  *observability.Logger
}

// NewStage creates an OCR stage over an ordered engine chain.
func NewStage(logger *observability.Logger, engines ...Engine) *Stage {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Stage{engines: engines, logger: logger}
}

// Run writes <stem>-ocr.pdf next to doc and returns it as a new document.
// OCRForce re-recognizes pages that already have text.
func (s *Stage) Run(ctx context.Context, ws domain.Workspace, doc domain.Document, mode domain.OCRMode) (domain.Document, error) {
	in, err := ws.Path(doc.Name)
	if err != nil {
		return domain.Document{}, domain.OCRFailedError("resolve input", err)
	}

	outName := OutputName(doc.Name)
	out, err := ws.Path(outName)
	if err != nil {
		return domain.Document{}, domain.OCRFailedError("resolve output", err)
	}

	log := s.logger.WithContext(ctx)
	var errs []error
	tried := 0

	for _, engine := range s.engines {
		if !engine.Supports(doc.Format) {
			continue
		}
		tried++

		start := time.Now()
		err := engine.Run(ctx, in, out, mode)
		if err == nil && ws.Exists(outName) {
			log.Info().
				Str("engine", engine.Name()).
				Str("document", doc.Name).
				Bool("forced", mode == domain.OCRForce).
				Dur("duration", time.Since(start)).
				Msg("ocr completed")
			return domain.Document{Name: outName, Format: domain.FormatPDF}, nil
		}
		if err == nil {
			err = fmt.Errorf("%s produced no output", engine.Name())
		}

		log.Warn().
			Str("engine", engine.Name()).
			Str("document", doc.Name).
			Err(err).
			Msg("ocr engine failed, trying next")
		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}

	if tried == 0 {
		return domain.Document{}, domain.OCRFailedError(
			fmt.Sprintf("no OCR engine supports %s input", doc.Format), nil)
	}
	return domain.Document{}, domain.OCRFailedError("all OCR engines failed", errors.Join(errs...))
}

// OutputName returns the searchable PDF name derived from name.
func OutputName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "-ocr.pdf"
}
