package ocr

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/workspace"
)

// fakeRunner records invocations and optionally writes the output file the
// real tool would produce.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if r.fail[name] {
		return nil, []byte("boom: corrupted input"), errors.New("exit status 2")
	}

	switch {
	case strings.HasPrefix(name, "ocrmypdf"), name == "paddle2pdf":
		out := args[len(args)-1]
		return nil, nil, os.WriteFile(out, []byte("%PDF-1.7 ocr"), 0o600)
	case name == "tesseract":
		base := args[1]
		return nil, nil, os.WriteFile(base+".pdf", []byte("%PDF-1.7 ocr"), 0o600)
	}
	return nil, nil, nil
}

func (r *fakeRunner) tools() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c[0])
	}
	return out
}

func setup(t *testing.T, name string) (*workspace.Handle, domain.Document) {
	t.Helper()
	m := workspace.NewManager(workspace.Config{BaseDir: t.TempDir(), TTL: time.Hour}, nil)
	ws, err := m.Allocate("req-ocr")
	require.NoError(t, err)
	w, err := ws.Create(name)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	format := domain.FormatPDF
	if strings.HasSuffix(name, ".png") {
		format = domain.FormatPNG
	}
	return ws, domain.Document{Name: name, Format: format}
}

func newChain(r *fakeRunner) *Stage {
	return NewStage(nil,
		&OCRmyPDF{Runner: r, Jobs: 2},
		&Tesseract{Runner: r},
	)
}

func TestStage_PDFUsesOCRmyPDF(t *testing.T) {
	r := &fakeRunner{}
	ws, doc := setup(t, "job1.pdf")

	out, err := newChain(r).Run(context.Background(), ws, doc, domain.OCRSkipText)
	require.NoError(t, err)

	assert.Equal(t, "job1-ocr.pdf", out.Name)
	assert.Equal(t, domain.FormatPDF, out.Format)
	assert.True(t, ws.Exists(out.Name))
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{
		"ocrmypdf", "--skip-text", "--rotate-pages", "--deskew", "--clean",
		"--optimize", "1", "--jobs", "2",
	}, r.calls[0][:9])
}

func TestStage_ForcedModeReplacesSkipText(t *testing.T) {
	r := &fakeRunner{}
	ws, doc := setup(t, "born.pdf")

	out, err := newChain(r).Run(context.Background(), ws, doc, domain.OCRForce)
	require.NoError(t, err)

	assert.Equal(t, "born-ocr.pdf", out.Name)
	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{"ocrmypdf", "--force-ocr", "--rotate-pages", "--deskew"}, r.calls[0][:4])
	assert.NotContains(t, r.calls[0], "--skip-text")
}

func TestStage_PaddleOCRWrapper(t *testing.T) {
	r := &fakeRunner{}
	ws, doc := setup(t, "scan.png")

	stage := NewStage(nil,
		&PaddleOCR{Runner: r, Command: `paddle2pdf --det-model "/models/det v4"`, Language: "fr"},
		&Tesseract{Runner: r},
	)

	out, err := stage.Run(context.Background(), ws, doc, domain.OCRForce)
	require.NoError(t, err)

	assert.Equal(t, "scan-ocr.pdf", out.Name)
	assert.Equal(t, []string{"paddle2pdf"}, r.tools(), "tesseract is only a fallback")
	call := r.calls[0]
	assert.Equal(t, []string{"paddle2pdf", "--det-model", "/models/det v4", "--lang", "fr"}, call[:5])
	assert.True(t, strings.HasSuffix(call[len(call)-1], "scan-ocr.pdf"))
}

func TestStage_PaddleOCRFallsBackToTesseract(t *testing.T) {
	r := &fakeRunner{fail: map[string]bool{"paddle2pdf": true}}
	ws, doc := setup(t, "scan.png")

	stage := NewStage(nil,
		&PaddleOCR{Runner: r, Command: "paddle2pdf"},
		&Tesseract{Runner: r},
	)

	out, err := stage.Run(context.Background(), ws, doc, domain.OCRSkipText)
	require.NoError(t, err)
	assert.Equal(t, "scan-ocr.pdf", out.Name)
	assert.Equal(t, []string{"paddle2pdf", "tesseract"}, r.tools())
}

func TestStage_ImageUsesTesseract(t *testing.T) {
	r := &fakeRunner{}
	ws, doc := setup(t, "job2.png")

	out, err := newChain(r).Run(context.Background(), ws, doc, domain.OCRSkipText)
	require.NoError(t, err)

	assert.Equal(t, "job2-ocr.pdf", out.Name)
	assert.Equal(t, []string{"tesseract"}, r.tools())
	assert.Equal(t, "pdf", r.calls[0][len(r.calls[0])-1])
}

func TestStage_FallsBackToNextEngine(t *testing.T) {
	r := &fakeRunner{fail: map[string]bool{"ocrmypdf": true}}
	ws, doc := setup(t, "job3.pdf")

	// a second PDF-capable engine after the failing one
	stage := NewStage(nil,
		&OCRmyPDF{Runner: r},
		&OCRmyPDF{Runner: r, Path: "ocrmypdf-alt"},
	)

	out, err := stage.Run(context.Background(), ws, doc, domain.OCRSkipText)
	require.NoError(t, err)
	assert.Equal(t, "job3-ocr.pdf", out.Name)
	assert.Equal(t, []string{"ocrmypdf", "ocrmypdf-alt"}, r.tools())
}

func TestStage_AllEnginesFail(t *testing.T) {
	r := &fakeRunner{fail: map[string]bool{"ocrmypdf": true}}
	ws, doc := setup(t, "job4.pdf")

	_, err := newChain(r).Run(context.Background(), ws, doc, domain.OCRSkipText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOCRFailed))
	assert.Contains(t, err.Error(), "corrupted input")
}

func TestStage_NoSupportingEngine(t *testing.T) {
	r := &fakeRunner{}
	ws, doc := setup(t, "job5.png")

	_, err := NewStage(nil, &OCRmyPDF{Runner: r}).Run(context.Background(), ws, doc, domain.OCRSkipText)
	assert.True(t, errors.Is(err, domain.ErrOCRFailed))
	assert.Empty(t, r.calls)
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "a-ocr.pdf", OutputName("a.pdf"))
	assert.Equal(t, "scan-ocr.pdf", OutputName("scan.jpg"))
	assert.Equal(t, "x-ocr-ocr.pdf", OutputName("x-ocr.pdf"))
}
