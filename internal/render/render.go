// Package render turns extracted tables into an HTML preview fragment and a
// JSON document. Output is deterministic for a given input.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/spherical/pdf2tables/internal/domain"
)

const tableStyle = `
.table-card { margin-top: 1.5rem; }
.table-card h3 { font-weight: 600; margin-bottom: 0.5rem; }
.table-card table { width: 100%; border-collapse: collapse; table-layout: fixed; }
.table-card th, .table-card td { border: 1px solid #e5e7eb; padding: 0.5rem; font-size: 0.875rem; }
.table-card tbody tr:nth-child(odd) { background-color: #f9fafb; }
`

// EmptyHTML is rendered when no table was detected.
const EmptyHTML = `<p class="text-sm text-gray-600">No tables detected.</p>`

// Document is the JSON result shape.
type Document struct {
	Tables []TableJSON `json:"tables"`
}

// TableJSON is one table in the JSON result.
type TableJSON struct {
	Page     int             `json:"page"`
	Order    int             `json:"order"`
	Strategy domain.Strategy `json:"strategy"`
	Rows     int             `json:"rows"`
	Columns  int             `json:"columns"`
	Data     [][]string      `json:"data"`
}

// Renderer implements domain.Renderer.
type Renderer struct{}

// New creates a renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render returns the HTML fragment and JSON document for tables.
func (r *Renderer) Render(tables []domain.Table) (string, []byte, error) {
	doc := Document{Tables: make([]TableJSON, 0, len(tables))}
	for _, t := range tables {
		grid := normalize(t.Rows)
		rows, cols := domain.Table{Rows: grid}.Shape()
		doc.Tables = append(doc.Tables, TableJSON{
			Page:     t.Page,
			Order:    t.Order,
			Strategy: t.Strategy,
			Rows:     rows,
			Columns:  cols,
			Data:     grid,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", nil, domain.RenderError("encode tables", err)
	}

	if len(doc.Tables) == 0 {
		return EmptyHTML, data, nil
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, element(atom.Style, nil, text(tableStyle))); err != nil {
		return "", nil, domain.RenderError("render style", err)
	}
	for _, t := range doc.Tables {
		buf.WriteByte('\n')
		if err := html.Render(&buf, card(t)); err != nil {
			return "", nil, domain.RenderError("render table", err)
		}
	}
	return buf.String(), data, nil
}

func card(t TableJSON) *html.Node {
	heading := element(atom.H3, nil,
		text(fmt.Sprintf("Page %d – Table %d ", t.Page, t.Order)),
		element(atom.Span, []html.Attribute{{Key: "class", Val: "text-xs text-slate-500"}},
			text("("+string(t.Strategy)+")")),
	)

	body := element(atom.Tbody, nil)
	for _, row := range t.Data {
		tr := element(atom.Tr, nil)
		for _, cell := range row {
			tr.AppendChild(element(atom.Td, nil, text(cell)))
		}
		body.AppendChild(tr)
	}

	return element(atom.Div, []html.Attribute{{Key: "class", Val: "table-card"}},
		heading,
		element(atom.Table, nil, body),
	)
}

func element(a atom.Atom, attrs []html.Attribute, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// normalize guarantees a non-nil rectangular grid.
func normalize(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		row := make([]string, width)
		copy(row, r)
		out[i] = row
	}
	return out
}
