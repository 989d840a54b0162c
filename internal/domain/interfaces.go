package domain

import (
	"context"
	"io"
	"time"
)

// Workspace is the only storage handle a stage receives. Every name is
// relative to the workspace root and cannot escape it.
type Workspace interface {
	RequestID() string
	ExpiresAt() time.Time

	// Path resolves name to an absolute path inside the workspace.
	Path(name string) (string, error)
	// Dir creates a subdirectory and returns its absolute path.
	Dir(name string) (string, error)
	Create(name string) (io.WriteCloser, error)
	ReadFile(name string) ([]byte, error)
	Exists(name string) bool
}

// Classifier decides which pipeline path a document takes.
type Classifier interface {
	Classify(ctx context.Context, ws Workspace, doc Document) (Classification, error)
}

// OCRStage turns a scanned document into a text-searchable PDF.
type OCRStage interface {
	Run(ctx context.Context, ws Workspace, doc Document, mode OCRMode) (Document, error)
}

// TableExtractor runs the strategy fallback chain on a document. The deep
// strategy is only consulted when allowDeep is set.
type TableExtractor interface {
	Extract(ctx context.Context, ws Workspace, doc Document, allowDeep bool) ([]Table, Strategy, error)
}

// Renderer turns tables into HTML and JSON.
type Renderer interface {
	Render(tables []Table) (html string, data []byte, err error)
}
