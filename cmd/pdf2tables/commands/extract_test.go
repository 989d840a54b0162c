package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf2tables/cmd/pdf2tables/ui"
	"github.com/spherical/pdf2tables/internal/app"
	"github.com/spherical/pdf2tables/internal/classify"
	"github.com/spherical/pdf2tables/internal/config"
	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/service"
)

// streamOnly emulates camelot finding one table with the stream flavor.
type streamOnly struct{}

func (streamOnly) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	var out string
	stream := false
	for i, a := range args {
		if a == "--output" && i+1 < len(args) {
			out = args[i+1]
		}
		if a == "stream" {
			stream = true
		}
	}
	if stream && out != "" {
		body := `[{"0":"Year","1":"Total"},{"0":"2025","1":"12"}]`
		err := os.WriteFile(filepath.Join(filepath.Dir(out), "tables-page-2-table-1.json"), []byte(body), 0o600)
		return nil, nil, err
	}
	return nil, nil, nil
}

type textLayer struct{}

func (textLayer) Open(string) (classify.TextDocument, error) { return textPages{}, nil }

type textPages struct{}

func (textPages) NumPage() int { return 2 }
func (textPages) Text(int) (string, error) { return strings.Repeat("t", 400), nil }
func (textPages) Close() error { return nil }

func buildApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace.BaseDir = t.TempDir()

	a, err := app.Build(context.Background(), cfg, nil, app.Options{
		ToolRunner:       streamOnly{},
		TextSource:       textLayer{},
		DisableRateLimit: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestRunBatch_WritesOutputs(t *testing.T) {
	a := buildApp(t)
	src := t.TempDir()
	out := t.TempDir()

	uploads, err := fileUploads([]string{
		writeFile(t, src, "annual.pdf", []byte("%PDF-1.6\n%%EOF\n")),
		writeFile(t, t.TempDir(), "annual.pdf", []byte("%PDF-1.6\n%%EOF\n")),
	})
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	u := ui.NewWithWriters(&stdout, &stderr)

	batch, err := runBatch(context.Background(), a.Service, u, uploads, 5*time.Millisecond)
	require.NoError(t, err)
	require.True(t, batch.Done)
	require.Len(t, batch.Jobs, 2)
	for _, j := range batch.Jobs {
		assert.Equal(t, domain.StatusDone, j.Status)
		assert.Equal(t, domain.StrategyStream, j.StrategyUsed)
	}

	outputs, err := writeOutputs(a.Service, batch, out, "both")
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "duplicate names get distinct files")

	data, err := os.ReadFile(filepath.Join(out, "annual-tables.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"2025"`)

	summarize(u, batch, outputs, time.Second)
	assert.Contains(t, stdout.String(), "2 document(s) processed")
	assert.Contains(t, stdout.String(), "stream")

	require.NoError(t, a.Service.Release(batch.RequestID))
}

func TestRunBatch_RejectsUnsupported(t *testing.T) {
	a := buildApp(t)
	uploads, err := fileUploads([]string{writeFile(t, t.TempDir(), "notes.txt", []byte("plain text"))})
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	_, err = runBatch(context.Background(), a.Service, ui.NewWithWriters(&stdout, &stderr), uploads, time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestFileUploads_Errors(t *testing.T) {
	_, err := fileUploads([]string{filepath.Join(t.TempDir(), "missing.pdf")})
	assert.Error(t, err)

	_, err = fileUploads([]string{t.TempDir()})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	b := &service.Batch{Jobs: []domain.Job{
		{FileName: "a.pdf", Status: domain.StatusDone},
		{FileName: "b.png", Status: domain.StatusOCRRunning},
	}}
	assert.Equal(t, "1/2 finished | b.png: ocr_running", describe(b))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "pdf2tables version "+Version+"\n", buf.String())
}
