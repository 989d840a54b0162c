package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/toolexec"
)

// Deep runs an operator-supplied detector command. The command line is split
// with shell quoting rules before the document path is appended. The
// command prints a JSON array of {"page","order","data"} objects on stdout.
type Deep struct {
	Runner  toolexec.Runner
	Command string
}

// NewDeep returns nil when command is empty so callers can pass the
// result straight to NewService.
func NewDeep(runner toolexec.Runner, command string) Strategy {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	return &Deep{Runner: runner, Command: command}
}

func (d *Deep) Name() domain.Strategy { return domain.StrategyDeep }

func (d *Deep) Extract(ctx context.Context, ws domain.Workspace, doc domain.Document) ([]domain.Table, error) {
	in, err := ws.Path(doc.Name)
	if err != nil {
		return nil, err
	}

	name, args, err := toolexec.SplitCommand(d.Command)
	if err != nil {
		return nil, fmt.Errorf("deep detector: %w", err)
	}
	args = append(args, in)

	stdout, stderr, err := d.Runner.Run(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("deep detector: %w: %s", err, toolexec.Truncate(strings.TrimSpace(string(stderr)), 512))
	}

	if err := validateDeepOutput(stdout); err != nil {
		return nil, err
	}

	var raw []struct {
		Page  int         `json:"page"`
		Order int         `json:"order"`
		Data  [][]*string `json:"data"`
	}
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, fmt.Errorf("decode deep detector output: %w", err)
	}

	tables := make([]domain.Table, 0, len(raw))
	for _, t := range raw {
		rows := make([][]string, len(t.Data))
		for i, r := range t.Data {
			rows[i] = make([]string, len(r))
			for j, cell := range r {
				if cell != nil {
					rows[i][j] = *cell
				}
			}
		}
		tables = append(tables, domain.Table{Page: t.Page, Order: t.Order, Rows: rows})
	}
	return tables, nil
}
