package classify

import (
	"github.com/gen2brain/go-fitz"
)

// FitzSource reads PDF text layers with MuPDF.
type FitzSource struct{}

// Open opens path with go-fitz.
func (FitzSource) Open(path string) (TextDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d fitzDocument) NumPage() int { return d.doc.NumPage() }

func (d fitzDocument) Text(page int) (string, error) { return d.doc.Text(page) }

func (d fitzDocument) Close() error { return d.doc.Close() }
