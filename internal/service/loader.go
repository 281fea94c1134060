package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// SnapshotReader is the local document store behind FullmatchLoader;
// *api.Client in production.
type SnapshotReader interface {
	FullmatchSnapshots(mode domain.GameMode) ([]string, error)
	ReadSnapshot(r api.Request) (*api.Response, error)
	OpenBasic(mode domain.GameMode, year int) (io.ReadCloser, error)
}

// LoadSummary counts what a bulk load did.
type LoadSummary struct {
	Files   int `json:"files"`
	Matches int `json:"matches"`
	Rows    int `json:"rows"`
	Skipped int `json:"skipped"`
}

// FullmatchLoader bulk-loads the fullmatches tiers from local data: stored
// fullmatch documents into MAIN, CSV exports into BASIC.
type FullmatchLoader struct {
	snapshots SnapshotReader
	promoter  *Promoter
	matches   *repository.MatchRepository
	journal   *Journal
	logger    zerolog.Logger
}

func NewFullmatchLoader(snapshots SnapshotReader, promoter *Promoter, matches *repository.MatchRepository, journal *Journal, logger zerolog.Logger) *FullmatchLoader {
	return &FullmatchLoader{
		snapshots: snapshots,
		promoter:  promoter,
		matches:   matches,
		journal:   journal,
		logger:    logger,
	}
}

// LoadSnapshots writes every stored fullmatch document of mode into the
// MAIN tier of its partition. Matches already in MAIN are skipped.
func (l *FullmatchLoader) LoadSnapshots(ctx context.Context, mode domain.GameMode) (LoadSummary, error) {
	ids, err := l.snapshots.FullmatchSnapshots(mode)
	if err != nil {
		return LoadSummary{}, err
	}

	summary := LoadSummary{Files: len(ids)}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rows, err := l.loadSnapshot(ctx, mode, id)
		if err != nil {
			return summary, err
		}
		if rows == 0 {
			summary.Skipped++
		} else {
			summary.Matches++
			summary.Rows += rows
		}
		if (i+1)%constants.LoadProgressStep == 0 {
			l.logger.Info().Str("game_mode", string(mode)).Int("done", i+1).Int("total", len(ids)).Msg("loading fullmatches")
		}
	}

	l.journal.Log(ctx, domain.LogTracker, string(mode),
		fmt.Sprintf("fullmatches loaded %d matches from %d files", summary.Matches, summary.Files),
		map[string]any{"rows": summary.Rows, "skipped": summary.Skipped})
	return summary, nil
}

func (l *FullmatchLoader) loadSnapshot(ctx context.Context, mode domain.GameMode, id string) (int, error) {
	resp, err := l.snapshots.ReadSnapshot(api.Request{Target: id, GameMode: mode, DataType: domain.DataTypeFullmatches})
	var perr *api.ProviderError
	if errors.As(err, &perr) {
		l.journal.Log(ctx, domain.LogTrackerError, id, fmt.Sprintf("%s fullmatch snapshot %s", mode, perr.Message), nil)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var full ProviderFullmatch
	if err := json.Unmarshal(resp.Payload, &full); err != nil {
		l.journal.Log(ctx, domain.LogTrackerError, id, fmt.Sprintf("%s fullmatch decode failed: %v", mode, err), nil)
		return 0, nil
	}
	players := l.promoter.decodePlayers(ctx, id, mode, full)
	if len(players) == 0 {
		l.journal.Log(ctx, domain.LogTrackerError, id, fmt.Sprintf("%s fullmatch players not found", mode), nil)
		return 0, nil
	}

	matchID := players[0].MatchID
	if matchID == "" {
		matchID = id
	}
	part, err := l.matches.Partitions().ResolveTime(mode, time.Unix(players[0].UtcStartSeconds, 0))
	if errors.Is(err, repository.ErrUnknownPartition) {
		l.journal.Log(ctx, domain.LogTrackerError, matchID, err.Error(), nil)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	exists, err := l.matches.InMain(ctx, part, matchID)
	if err != nil || exists {
		return 0, err
	}
	_, rows, err := l.promoter.writePlayers(ctx, part, matchID, players)
	return rows, err
}

// basic tier CSV columns, named like the table columns
var basicSetters = map[string]func(m *domain.MatchRecord, v string) error{
	"match_id": func(m *domain.MatchRecord, v string) error { m.MatchID = v; return nil },
	"uno":      func(m *domain.MatchRecord, v string) error { m.Uno = v; return nil },
	"username": func(m *domain.MatchRecord, v string) error { m.Username = v; return nil },
	"clantag":  func(m *domain.MatchRecord, v string) error { m.Clantag = v; return nil },
	"map":      func(m *domain.MatchRecord, v string) error { m.Map = v; return nil },
	"mode":     func(m *domain.MatchRecord, v string) error { m.Mode = v; return nil },
	"team":     func(m *domain.MatchRecord, v string) error { m.Team = v; return nil },
	"time": func(m *domain.MatchRecord, v string) error {
		ts, err := strconv.ParseInt(v, 10, 64)
		m.Time = time.Unix(ts, 0).UTC()
		return err
	},
	"result":           intSetter(func(m *domain.MatchRecord) *int { return &m.Result }),
	"duration":         intSetter(func(m *domain.MatchRecord) *int { return &m.Duration }),
	"time_played":      intSetter(func(m *domain.MatchRecord) *int { return &m.TimePlayed }),
	"kills":            intSetter(func(m *domain.MatchRecord) *int { return &m.Kills }),
	"deaths":           intSetter(func(m *domain.MatchRecord) *int { return &m.Deaths }),
	"damage_done":      intSetter(func(m *domain.MatchRecord) *int { return &m.DamageDone }),
	"headshots":        intSetter(func(m *domain.MatchRecord) *int { return &m.Headshots }),
	"longest_streak":   intSetter(func(m *domain.MatchRecord) *int { return &m.LongestStreak }),
	"assists":          intSetter(func(m *domain.MatchRecord) *int { return &m.Assists }),
	"score":            intSetter(func(m *domain.MatchRecord) *int { return &m.Score }),
	"total_xp":         intSetter(func(m *domain.MatchRecord) *int { return &m.TotalXp }),
	"kd_ratio":         floatSetter(func(m *domain.MatchRecord) *float64 { return &m.KdRatio }),
	"score_per_minute": floatSetter(func(m *domain.MatchRecord) *float64 { return &m.ScorePerMinute }),
}

func intSetter(field func(m *domain.MatchRecord) *int) func(m *domain.MatchRecord, v string) error {
	return func(m *domain.MatchRecord, v string) error {
		n, err := strconv.ParseFloat(v, 64)
		*field(m) = int(n)
		return err
	}
}

func floatSetter(field func(m *domain.MatchRecord) *float64) func(m *domain.MatchRecord, v string) error {
	return func(m *domain.MatchRecord, v string) error {
		n, err := strconv.ParseFloat(v, 64)
		*field(m) = n
		return err
	}
}

// LoadBasic imports the CSV export of one BASIC partition. Rows of matches
// already present in either tier are skipped; other columns are ignored.
func (l *FullmatchLoader) LoadBasic(ctx context.Context, mode domain.GameMode, year int) (LoadSummary, error) {
	part, err := l.matches.Partitions().Resolve(mode, year)
	if err != nil {
		return LoadSummary{}, err
	}
	known, err := l.matches.KnownMatchIDs(ctx, part)
	if err != nil {
		return LoadSummary{}, err
	}

	rc, err := l.snapshots.OpenBasic(mode, part.Year)
	if err != nil {
		return LoadSummary{}, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return LoadSummary{}, fmt.Errorf("failed to read csv header: %w", err)
	}
	columns := make([]string, len(header))
	copy(columns, header)
	for _, required := range []string{"match_id", "uno", "time"} {
		if !slices.Contains(columns, required) {
			return LoadSummary{}, fmt.Errorf("csv of %s has no %s column", part, required)
		}
	}

	var (
		summary LoadSummary
		batch   []domain.MatchRecord
		matches = make(map[string]bool)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.matches.InsertBasic(ctx, part, batch); err != nil {
			return err
		}
		summary.Rows += len(batch)
		batch = batch[:0]
		return nil
	}

	for line := 2; ; line++ {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.journal.Log(ctx, domain.LogTrackerError, part.String(), fmt.Sprintf("basic csv line %d: %v", line, err), nil)
			summary.Skipped++
			continue
		}

		record, err := parseBasicRow(columns, fields)
		if err != nil {
			l.journal.Log(ctx, domain.LogTrackerError, part.String(), fmt.Sprintf("basic csv line %d: %v", line, err), nil)
			summary.Skipped++
			continue
		}
		if known[record.MatchID] {
			summary.Skipped++
			continue
		}
		matches[record.MatchID] = true
		batch = append(batch, record)
		if len(batch) >= constants.BasicLoadBatch {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := flush(); err != nil {
		return summary, err
	}

	summary.Matches = len(matches)
	l.journal.Log(ctx, domain.LogTracker, part.String(),
		fmt.Sprintf("%s loaded %d rows of %d matches", repository.TierBasic, summary.Rows, summary.Matches),
		map[string]any{"skipped": summary.Skipped})
	return summary, nil
}

func parseBasicRow(columns, fields []string) (domain.MatchRecord, error) {
	var m domain.MatchRecord
	for i, name := range columns {
		if i >= len(fields) || fields[i] == "" {
			continue
		}
		set, ok := basicSetters[name]
		if !ok {
			continue
		}
		if err := set(&m, fields[i]); err != nil {
			return m, fmt.Errorf("column %s: %w", name, err)
		}
	}
	if m.MatchID == "" || m.Uno == "" {
		return m, errors.New("match_id and uno are required")
	}
	return m, nil
}
