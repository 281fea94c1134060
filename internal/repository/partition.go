package repository

import (
	"cod-tracker/internal/domain"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Tier selects the column layout of a fullmatches partition.
type Tier string

const (
	TierMain  Tier = "main"
	TierBasic Tier = "basic"
)

var ErrUnknownPartition = errors.New("unknown fullmatches partition")

// Partition is one (mode, year) slice of fullmatches. Year 0 means the mode
// is not split by year.
type Partition struct {
	GameMode domain.GameMode
	Year     int
}

func (p Partition) Table(tier Tier) string {
	if p.Year == 0 {
		return fmt.Sprintf("fullmatches_%s_%s", tier, p.GameMode)
	}
	return fmt.Sprintf("fullmatches_%s_%s_%d", tier, p.GameMode, p.Year)
}

func (p Partition) String() string {
	if p.Year == 0 {
		return string(p.GameMode)
	}
	return fmt.Sprintf("%s %d", p.GameMode, p.Year)
}

// Partitions maps (mode, year) to fullmatches storage.
type Partitions struct {
	years map[domain.GameMode][]int
}

func NewPartitions(years map[domain.GameMode][]int) *Partitions {
	copied := make(map[domain.GameMode][]int, len(years))
	for mode, ys := range years {
		sorted := append([]int(nil), ys...)
		sort.Ints(sorted)
		copied[mode] = sorted
	}
	return &Partitions{years: copied}
}

func DefaultPartitions() *Partitions {
	return NewPartitions(map[domain.GameMode][]int{
		domain.GameModeMwMp: {0},
		domain.GameModeMwWz: {2020, 2021, 2022, 2023},
	})
}

// Resolve picks the partition holding a match of mode played in year.
func (p *Partitions) Resolve(mode domain.GameMode, year int) (Partition, error) {
	years, ok := p.years[mode]
	if !ok {
		return Partition{}, fmt.Errorf("%w: %s", ErrUnknownPartition, mode)
	}
	if len(years) == 1 && years[0] == 0 {
		return Partition{GameMode: mode}, nil
	}
	for _, y := range years {
		if y == year {
			return Partition{GameMode: mode, Year: year}, nil
		}
	}
	return Partition{}, fmt.Errorf("%w: %s %d", ErrUnknownPartition, mode, year)
}

// ResolveTime is Resolve for a match start time.
func (p *Partitions) ResolveTime(mode domain.GameMode, t time.Time) (Partition, error) {
	return p.Resolve(mode, t.UTC().Year())
}

func (p *Partitions) For(mode domain.GameMode) []Partition {
	years := p.years[mode]
	parts := make([]Partition, 0, len(years))
	for _, y := range years {
		parts = append(parts, Partition{GameMode: mode, Year: y})
	}
	return parts
}

func (p *Partitions) All() []Partition {
	var parts []Partition
	for _, mode := range domain.GameModes {
		parts = append(parts, p.For(mode)...)
	}
	return parts
}

// Validate checks that every known partition has both tiers in the schema.
func (p *Partitions) Validate(ctx context.Context, db *sql.DB) error {
	for _, part := range p.All() {
		for _, tier := range []Tier{TierMain, TierBasic} {
			var name string
			err := db.QueryRowContext(ctx,
				"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", part.Table(tier),
			).Scan(&name)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: missing table %s", ErrUnknownPartition, part.Table(tier))
			}
			if err != nil {
				return fmt.Errorf("failed to check table %s: %w", part.Table(tier), err)
			}
		}
	}
	return nil
}

// MatchesTable names the rolling per-player table of a concrete mode.
func MatchesTable(mode domain.GameMode) (string, error) {
	for _, m := range domain.GameModes {
		if m == mode {
			return "matches_" + string(mode), nil
		}
	}
	return "", fmt.Errorf("no matches table for %q", mode)
}
