package domain

import (
	"encoding/json"
	"time"
)

// OCRMode controls how OCR treats pages that already carry a text layer.
type OCRMode int

const (
	// OCRSkipText leaves pages with existing text untouched.
	OCRSkipText OCRMode = iota
	// OCRForce rasterizes and recognizes every page.
	OCRForce
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusClassifying Status = "classifying"
	StatusOCRRunning  Status = "ocr_running"
	StatusExtracting  Status = "extracting"
	StatusRendering   Status = "rendering"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

// successors is the state machine. failed is reachable from every
// non-terminal state and is added in CanTransition.
var successors = map[Status][]Status{
	StatusQueued:      {StatusClassifying},
	StatusClassifying: {StatusOCRRunning, StatusExtracting},
	StatusOCRRunning:  {StatusExtracting},
	StatusExtracting:  {StatusRendering},
	StatusRendering:   {StatusDone},
}

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether to is a valid successor of s.
func (s Status) CanTransition(to Status) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range successors[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Progress maps a status to a coarse percentage for polling clients. Only
// terminal states report 100.
func (s Status) Progress() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusClassifying:
		return 25
	case StatusOCRRunning:
		return 50
	case StatusExtracting:
		return 75
	case StatusRendering:
		return 90
	case StatusDone, StatusFailed:
		return 100
	default:
		return 0
	}
}

// Classification is the classifier verdict for a document.
type Classification string

const (
	ClassificationUnknown     Classification = "unknown"
	ClassificationBornDigital Classification = "born_digital"
	ClassificationScanned     Classification = "scanned"
)

// Strategy names the table extraction strategy that produced the result.
type Strategy string

const (
	StrategyNone    Strategy = "none"
	StrategyLattice Strategy = "lattice"
	StrategyStream  Strategy = "stream"
	StrategyDeep    Strategy = "deep"
)

// Format is a recognized input document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// MediaType returns the MIME type for the format.
func (f Format) MediaType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the canonical file extension including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatPDF:
		return ".pdf"
	case FormatPNG:
		return ".png"
	case FormatJPEG:
		return ".jpg"
	default:
		return ""
	}
}

// IsImage reports whether the format is a raster image.
func (f Format) IsImage() bool {
	return f == FormatPNG || f == FormatJPEG
}

// Document is a file inside a workspace that a stage reads.
type Document struct {
	// Name is relative to the owning workspace.
	Name   string
	Format Format
}

// Table is one extracted table. Rows is always rectangular.
type Table struct {
	Page     int        `json:"page"`
	Order    int        `json:"order"`
	Strategy Strategy   `json:"strategy"`
	Rows     [][]string `json:"data"`
}

// Shape returns the number of rows and columns.
func (t Table) Shape() (rows, cols int) {
	rows = len(t.Rows)
	for _, r := range t.Rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return rows, cols
}

// Result is the rendered output of a finished job.
type Result struct {
	HTML       string          `json:"html"`
	JSON       json.RawMessage `json:"json"`
	TableCount int             `json:"table_count"`
}

// Transition records one status change.
type Transition struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// Job is an immutable snapshot of one unit of work for one uploaded file.
type Job struct {
	ID             string         `json:"id"`
	RequestID      string         `json:"request_id"`
	FileName       string         `json:"file_name"`
	Status         Status         `json:"status"`
	Classification Classification `json:"classification"`
	StrategyUsed   Strategy       `json:"strategy_used"`
	OCRApplied     bool           `json:"ocr_applied"`
	Error          *JobError      `json:"error,omitempty"`
	Result         *Result        `json:"result,omitempty"`
	History        []Transition   `json:"history"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Progress returns the job's coarse completion percentage.
func (j Job) Progress() int {
	return j.Status.Progress()
}
