// Package extract runs table extraction strategies over a document and
// applies the lattice-then-stream fallback policy.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/pdf2tables/internal/domain"
	"github.com/spherical/pdf2tables/internal/observability"
)

// Strategy detects tables in one document.
type Strategy interface {
	Name() domain.Strategy
	Extract(ctx context.Context, ws domain.Workspace, doc domain.Document) ([]domain.Table, error)
}

// Service tries the classic strategies in order and stops at the first one
// that returns any table. Quality of the tables is never considered.
type Service struct {
	classic []Strategy
	deep    Strategy
	logger  *observability.Logger
}

// NewService creates an extraction service. deep may be nil.
func NewService(logger *observability.Logger, deep Strategy, classic ...Strategy) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{classic: classic, deep: deep, logger: logger}
}

// HasDeep reports whether a deep strategy is configured.
func (s *Service) HasDeep() bool {
	return s.deep != nil
}

// Extract returns the tables of the first strategy that finds any, and the
// name of that strategy. Finding nothing is not an error: the result is an
// empty table set with strategy none. A strategy that errors counts as
// empty, but if every attempted strategy errored the extraction fails.
func (s *Service) Extract(ctx context.Context, ws domain.Workspace, doc domain.Document, allowDeep bool) ([]domain.Table, domain.Strategy, error) {
	chain := s.classic
	if allowDeep && s.deep != nil {
		chain = append(append([]Strategy(nil), s.classic...), s.deep)
	}

	log := s.logger.WithContext(ctx)
	var errs []error

	for _, strategy := range chain {
		if err := ctx.Err(); err != nil {
			return nil, domain.StrategyNone, domain.ExtractionError("extraction interrupted", err)
		}

		start := time.Now()
		tables, err := strategy.Extract(ctx, ws, doc)
		if err != nil {
			log.Warn().
				Str("strategy", string(strategy.Name())).
				Str("document", doc.Name).
				Err(err).
				Msg("strategy failed, treating as empty")
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}

		log.Debug().
			Str("strategy", string(strategy.Name())).
			Str("document", doc.Name).
			Int("tables", len(tables)).
			Dur("duration", time.Since(start)).
			Msg("strategy finished")

		if len(tables) > 0 {
			return stamp(tables, strategy.Name()), strategy.Name(), nil
		}
	}

	if len(chain) > 0 && len(errs) == len(chain) {
		return nil, domain.StrategyNone, domain.ExtractionError("every extraction strategy failed", errors.Join(errs...))
	}
	return []domain.Table{}, domain.StrategyNone, nil
}

// stamp records the producing strategy and makes every grid rectangular.
func stamp(tables []domain.Table, name domain.Strategy) []domain.Table {
	out := make([]domain.Table, len(tables))
	for i, t := range tables {
		t.Strategy = name
		t.Rows = Rectangular(t.Rows)
		out[i] = t
	}
	return out
}

// Rectangular pads every row with empty strings to the widest row.
func Rectangular(rows [][]string) [][]string {
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
