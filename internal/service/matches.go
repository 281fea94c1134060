package service

import (
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"context"
	"errors"
	"fmt"
)

func (t *TrackerService) view(ctx context.Context, m domain.MatchRecord) domain.MatchView {
	return domain.MatchView{
		MatchID:        m.MatchID,
		Uno:            m.Uno,
		Username:       m.Username,
		Clantag:        m.Clantag,
		Time:           m.Time,
		Map:            m.Map,
		Mode:           m.Mode,
		Team:           m.Team,
		Result:         m.Result,
		Duration:       m.Duration,
		TimePlayed:     m.TimePlayed,
		Kills:          m.Kills,
		Deaths:         m.Deaths,
		KdRatio:        m.KdRatio,
		DamageDone:     m.DamageDone,
		DamageTaken:    m.DamageTaken,
		Headshots:      m.Headshots,
		LongestStreak:  m.LongestStreak,
		Assists:        m.Assists,
		Score:          m.Score,
		ScorePerMinute: m.ScorePerMinute,
		TotalXp:        m.TotalXp,
		Team1Score:     m.Team1Score,
		Team2Score:     m.Team2Score,
		Stats:          m.Extra,
		Loadout:        t.codec.DecodeLoadouts(ctx, m.Loadout),
		WeaponStats:    t.codec.DecodeWeaponStats(ctx, m.WeaponStats),
	}
}

// PlayerMatches returns a page of uno's newest matches in a concrete mode.
func (t *TrackerService) PlayerMatches(ctx context.Context, uno string, mode domain.GameMode, limit, offset int) ([]domain.MatchView, error) {
	if _, err := t.players.Get(ctx, uno); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, uno)
		}
		return nil, err
	}
	if limit <= 0 || limit > constants.RecentMatchesLimit {
		limit = constants.RecentMatchesLimit
	}

	records, err := t.matches.Recent(ctx, mode, uno, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]domain.MatchView, 0, len(records))
	for _, m := range records {
		views = append(views, t.view(ctx, m))
	}
	return views, nil
}

// Match returns every participant of a promoted match, looking through the
// partitions of mode.
func (t *TrackerService) Match(ctx context.Context, mode domain.GameMode, matchID string) ([]domain.MatchView, error) {
	parts := t.matches.Partitions().For(mode)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s", repository.ErrUnknownPartition, mode)
	}

	for _, part := range parts {
		records, err := t.matches.MainRows(ctx, part, matchID)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			continue
		}
		views := make([]domain.MatchView, 0, len(records))
		for _, m := range records {
			views = append(views, t.view(ctx, m))
		}
		return views, nil
	}
	return nil, fmt.Errorf("%w: match %s", ErrTargetNotFound, matchID)
}

// LoadFullmatches bulk-loads the stored fullmatch documents of mode.
func (t *TrackerService) LoadFullmatches(ctx context.Context, mode domain.GameMode) (LoadSummary, error) {
	return t.loader.LoadSnapshots(ctx, mode)
}

// LoadBasic imports the BASIC tier export of one partition.
func (t *TrackerService) LoadBasic(ctx context.Context, mode domain.GameMode, year int) (LoadSummary, error) {
	return t.loader.LoadBasic(ctx, mode, year)
}
