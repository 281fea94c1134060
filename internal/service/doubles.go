package service

import (
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"context"
	"fmt"
)

func (e *MatchIngestionEngine) deleteDoubles(ctx context.Context, target string, tables []string, uno string) (int64, error) {
	var total int64
	for _, table := range tables {
		n, err := e.matches.DeleteDoubles(ctx, table, uno)
		if err != nil {
			return total, err
		}
		if n > 0 {
			e.journal.Log(ctx, domain.LogTracker, target, fmt.Sprintf("%s doubles deleted [%d]", table, n), nil)
		}
		total += n
	}
	return total, nil
}

// ClearFullmatchDoubles keeps the lowest-id row of every (match_id, uno)
// pair in both tiers of one fullmatches partition.
func (e *MatchIngestionEngine) ClearFullmatchDoubles(ctx context.Context, mode domain.GameMode, year int) (int64, error) {
	part, err := e.matches.Partitions().Resolve(mode, year)
	if err != nil {
		return 0, err
	}
	tables := []string{part.Table(repository.TierMain), part.Table(repository.TierBasic)}
	return e.deleteDoubles(ctx, part.String(), tables, "")
}

// ClearPlayerMatchDoubles does the same for the rolling rows of one player
// in every mode covered by mode.
func (e *MatchIngestionEngine) ClearPlayerMatchDoubles(ctx context.Context, uno string, mode domain.GameMode) (int64, error) {
	var tables []string
	for _, m := range mode.Expand() {
		table, err := repository.MatchesTable(m)
		if err != nil {
			return 0, err
		}
		tables = append(tables, table)
	}
	return e.deleteDoubles(ctx, uno, tables, uno)
}
