package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/toolexec"
)

// Camelot runs the camelot CLI with one flavor and reads back the JSON
// files it exports, one per detected table.
type Camelot struct {
	Runner toolexec.Runner
	Path   string
	Flavor domain.Strategy
}

// NewLattice returns the ruling-line strategy.
func NewLattice(runner toolexec.Runner, path string) *Camelot {
	return &Camelot{Runner: runner, Path: path, Flavor: domain.StrategyLattice}
}

// NewStream returns the whitespace-alignment strategy.
func NewStream(runner toolexec.Runner, path string) *Camelot {
	return &Camelot{Runner: runner, Path: path, Flavor: domain.StrategyStream}
}

func (c *Camelot) Name() domain.Strategy { return c.Flavor }

func (c *Camelot) Extract(ctx context.Context, ws domain.Workspace, doc domain.Document) ([]domain.Table, error) {
	in, err := ws.Path(doc.Name)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name))
	dir, err := ws.Dir(filepath.Join("tables", stem+"-"+string(c.Flavor)))
	if err != nil {
		return nil, err
	}

	args := []string{
		"--format", "json",
		"--output", filepath.Join(dir, "tables.json"),
		"--pages", "all",
		"--strip_text", "\n",
		string(c.Flavor),
	}
	switch c.Flavor {
	case domain.StrategyLattice:
		args = append(args, "--process_background")
	case domain.StrategyStream:
		args = append(args, "--edge_tol", "500")
	}
	args = append(args, in)

	path := c.Path
	if path == "" {
		path = "camelot"
	}
	if _, stderr, err := c.Runner.Run(ctx, path, args...); err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg != "" {
			return nil, fmt.Errorf("camelot %s: %w: %s", c.Flavor, err, toolexec.Truncate(msg, 512))
		}
		return nil, fmt.Errorf("camelot %s: %w", c.Flavor, err)
	}

	return ReadExport(dir)
}

var exportName = regexp.MustCompile(`-page-(\d+)-table-(\d+)\.json$`)

// ReadExport loads every <root>-page-N-table-K.json file in dir, ordered by
// page and then table order.
func ReadExport(dir string) ([]domain.Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read camelot output: %w", err)
	}

	var tables []domain.Table
	for _, e := range entries {
		m := exportName.FindStringSubmatch(e.Name())
		if e.IsDir() || m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		order, _ := strconv.Atoi(m[2])

		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		rows, err := ParseRecords(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		tables = append(tables, domain.Table{Page: page, Order: order, Rows: rows})
	}

	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Page != tables[j].Page {
			return tables[i].Page < tables[j].Page
		}
		return tables[i].Order < tables[j].Order
	})
	return tables, nil
}

// ParseRecords converts records-oriented JSON ([{"0":"a","1":"b"}, ...])
// into a rectangular grid. Null cells become empty strings.
func ParseRecords(data []byte) ([][]string, error) {
	var records []map[string]*string
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	width := 0
	for _, rec := range records {
		for key := range rec {
			col, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("non-numeric column %q", key)
			}
			if col+1 > width {
				width = col + 1
			}
		}
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, width)
		for key, val := range rec {
			if val == nil {
				continue
			}
			col, _ := strconv.Atoi(key)
			row[col] = *val
		}
		rows[i] = row
	}
	return rows, nil
}
