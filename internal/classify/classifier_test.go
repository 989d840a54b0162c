package classify

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/workspace"
)

type fakeSource struct {
	pages   []string
	openErr error
}

func (f fakeSource) Open(string) (TextDocument, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return fakeDoc(f.pages), nil
}

type fakeDoc []string

func (d fakeDoc) NumPage() int                { return len(d) }
func (d fakeDoc) Text(i int) (string, error) { return d[i], nil }
func (d fakeDoc) Close() error                { return nil }

var (
	pdfHeader = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n")
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpgHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

func writeDoc(t *testing.T, ws *workspace.Handle, name string, data []byte) domain.Document {
	t.Helper()
	w, err := ws.Create(name)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return domain.Document{Name: name}
}

func newWorkspace(t *testing.T) *workspace.Handle {
	t.Helper()
	m := workspace.NewManager(workspace.Config{BaseDir: t.TempDir(), TTL: time.Hour}, nil)
	h, err := m.Allocate("req-classify")
	require.NoError(t, err)
	return h
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want domain.Format
	}{
		{"pdf", pdfHeader, domain.FormatPDF},
		{"pdf with bom", append([]byte("\xef\xbb\xbf"), pdfHeader...), domain.FormatPDF},
		{"png", pngHeader, domain.FormatPNG},
		{"jpeg", jpgHeader, domain.FormatJPEG},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectFormat(tc.head)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, head := range [][]byte{[]byte("hello, world"), []byte("GIF89a"), []byte("PK\x03\x04"), nil} {
		_, err := DetectFormat(head)
		assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat), "%q", head)
	}
}

func TestClassify_BornDigital(t *testing.T) {
	ws := newWorkspace(t)
	doc := writeDoc(t, ws, "a.pdf", pdfHeader)

	dense := strings.Repeat("x", 400)
	c := New(fakeSource{pages: []string{dense, dense}}, Config{TextRatioThreshold: 0.1, CharsPerPage: 1000}, nil)

	got, err := c.Classify(context.Background(), ws, doc)
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationBornDigital, got)
}

func TestClassify_ScannedPDF(t *testing.T) {
	ws := newWorkspace(t)
	doc := writeDoc(t, ws, "scan.pdf", pdfHeader)

	// 150 chars over 2 pages -> 0.075 < 0.1
	c := New(fakeSource{pages: []string{strings.Repeat("x", 150), "   \n"}}, Config{}, nil)

	got, err := c.Classify(context.Background(), ws, doc)
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationScanned, got)
}

func TestClassify_ThresholdBoundary(t *testing.T) {
	ws := newWorkspace(t)
	doc := writeDoc(t, ws, "edge.pdf", pdfHeader)

	// exactly 0.1 is not below the threshold
	c := New(fakeSource{pages: []string{strings.Repeat("x", 100)}}, Config{}, nil)

	got, err := c.Classify(context.Background(), ws, doc)
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationBornDigital, got)
}

func TestClassify_ImageAlwaysScanned(t *testing.T) {
	ws := newWorkspace(t)
	doc := writeDoc(t, ws, "page.png", pngHeader)

	c := New(fakeSource{openErr: errors.New("must not be opened")}, Config{}, nil)

	got, err := c.Classify(context.Background(), ws, doc)
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationScanned, got)
}

func TestClassify_Unsupported(t *testing.T) {
	ws := newWorkspace(t)
	doc := writeDoc(t, ws, "notes.txt", []byte("plain text, not a document"))

	c := New(fakeSource{}, Config{}, nil)

	_, err := c.Classify(context.Background(), ws, doc)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
}

func TestClassify_CorruptPDF(t *testing.T) {
	ws := newWorkspace(t)
	doc := writeDoc(t, ws, "broken.pdf", pdfHeader)

	c := New(fakeSource{openErr: io.ErrUnexpectedEOF}, Config{}, nil)

	_, err := c.Classify(context.Background(), ws, doc)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
}
