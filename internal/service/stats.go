package service

import (
	"cod-tracker/internal/codec"
	"cod-tracker/internal/config"
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StatsAggregator recomputes the derived summaries of a target: per-mode
// match counts, the co-player ranking, the calendar chart and loadout
// popularity.
type StatsAggregator struct {
	matches *repository.MatchRepository
	players *repository.PlayerRepository
	games   *GamesStatus
	codec   *codec.Codec
	cfg     *config.Config
	clock   clockwork.Clock
	logger  zerolog.Logger
}

func NewStatsAggregator(matches *repository.MatchRepository, players *repository.PlayerRepository, games *GamesStatus, c *codec.Codec, cfg *config.Config, clock clockwork.Clock, logger zerolog.Logger) *StatsAggregator {
	return &StatsAggregator{
		matches: matches,
		players: players,
		games:   games,
		codec:   c,
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// MatchesStatsUpdate refreshes games[mode].matches.stats of a player from
// the stored rows.
func (s *StatsAggregator) MatchesStatsUpdate(ctx context.Context, uno string, mode domain.GameMode) error {
	player, err := s.players.Get(ctx, uno)
	if err != nil {
		return fmt.Errorf("failed to load player %s: %w", uno, err)
	}

	for _, m := range mode.Expand() {
		stats := &player.Games.Get(m).Matches.Stats
		if stats.Matches, err = s.matches.DistinctMatches(ctx, m, uno); err != nil {
			return err
		}
		if m.IsMW() {
			if stats.Fullmatches, err = s.matches.PromotedMatches(ctx, m, uno); err != nil {
				return err
			}
		}
		game, _ := m.Split()
		if played := player.GamesStats[game].Played(); played > 0 {
			stats.Played = played
		}
	}
	return s.games.SetGames(ctx, uno, player.Games)
}

// PlayerMatchesStatsUpdate runs after ingestion wrote rows for a player.
func (s *StatsAggregator) PlayerMatchesStatsUpdate(ctx context.Context, uno string, mode domain.GameMode) error {
	if err := s.MatchesStatsUpdate(ctx, uno, mode); err != nil {
		return err
	}
	_, err := s.Recompute(ctx, uno, true)
	return err
}

// Recompute returns the derived summaries of target, reusing the cached
// ones unless force is set or they are older than StatsInterval.
func (s *StatsAggregator) Recompute(ctx context.Context, target string, force bool) (*domain.StatsBlob, error) {
	if !force {
		cached, found, err := s.games.CachedDerived(ctx, target)
		if err != nil {
			return nil, err
		}
		if found && s.clock.Since(cached.Time) < s.cfg.StatsInterval {
			return cached, nil
		}
	}

	unos, err := s.targetUnos(ctx, target)
	if err != nil {
		return nil, err
	}

	blob := &domain.StatsBlob{Time: s.clock.Now().UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chart, err := s.Chart(gctx, unos)
		blob.Chart = chart
		return err
	})
	g.Go(func() error {
		loadout, err := s.Loadout(gctx, unos)
		blob.Loadout = loadout
		return err
	})
	if domain.TargetTypeOf(target) == domain.TargetPlayer {
		g.Go(func() error {
			most, err := s.MostPlayWith(gctx, target)
			blob.MostPlayWith = most
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to recompute stats of %s: %w", target, err)
	}

	if err := s.games.SaveDerived(ctx, target, blob); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("target", target).Msg("derived stats recomputed")
	return blob, nil
}

// targetUnos returns the players a target covers; nil means every player.
func (s *StatsAggregator) targetUnos(ctx context.Context, target string) ([]string, error) {
	switch domain.TargetTypeOf(target) {
	case domain.TargetPlayer:
		return []string{target}, nil
	case domain.TargetAll:
		return nil, nil
	}
	members, err := s.games.Members(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPlayers, target)
	}
	return members, nil
}

// MostPlayWith ranks the players seen in the fullmatches of uno.
func (s *StatsAggregator) MostPlayWith(ctx context.Context, uno string) ([]domain.PlayWith, error) {
	merged := make(map[string]*domain.PlayWith)
	for _, mode := range domain.GameModes {
		if !mode.IsMW() {
			continue
		}
		for _, part := range s.matches.Partitions().For(mode) {
			rows, err := s.matches.CoPlayers(ctx, part, uno)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				pw, ok := merged[row.Uno]
				if !ok {
					pw = &domain.PlayWith{Uno: row.Uno}
					merged[row.Uno] = pw
				}
				if pw.Username == "" {
					pw.Username = row.Username
				}
				pw.Count += row.Count
			}
		}
	}

	result := make([]domain.PlayWith, 0, len(merged))
	for _, pw := range merged {
		if pw.Count > constants.MostPlayWithMinCount {
			result = append(result, *pw)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Uno < result[j].Uno
	})
	if len(result) > constants.MostPlayWithLimit {
		result = result[:constants.MostPlayWithLimit]
	}
	return result, nil
}

// Chart buckets match start times into year, month and day counts.
func (s *StatsAggregator) Chart(ctx context.Context, unos []string) (*domain.Chart, error) {
	chart := &domain.Chart{Years: make(map[int]*domain.ChartYear)}
	for _, mode := range domain.GameModes {
		times, err := s.matches.Times(ctx, mode, unos)
		if err != nil {
			return nil, err
		}
		for _, t := range times {
			year, ok := chart.Years[t.Year()]
			if !ok {
				year = &domain.ChartYear{Months: make(map[int]*domain.ChartMonth)}
				chart.Years[t.Year()] = year
			}
			month, ok := year.Months[int(t.Month())]
			if !ok {
				month = &domain.ChartMonth{Days: make(map[int]int)}
				year.Months[int(t.Month())] = month
			}
			month.Days[t.Day()]++
			month.Summ++
			year.Summ++
			chart.Summ++
		}
	}
	return chart, nil
}

// Loadout ranks primary and secondary weapon pairs, ignoring melee-only
// entries.
func (s *StatsAggregator) Loadout(ctx context.Context, unos []string) ([]domain.LoadoutUsage, error) {
	counts := make(map[string]int)
	for _, mode := range domain.GameModes {
		if !mode.IsMW() {
			continue
		}
		encoded, err := s.matches.Loadouts(ctx, mode, unos)
		if err != nil {
			return nil, err
		}
		for name, n := range s.codec.CountWeaponPairs(ctx, encoded) {
			counts[name] += n
		}
	}

	result := make([]domain.LoadoutUsage, 0, len(counts))
	for name, n := range counts {
		if strings.Contains(strings.ToLower(name), "fists") {
			continue
		}
		result = append(result, domain.LoadoutUsage{Name: name, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	if len(result) > constants.LoadoutLimit {
		result = result[:constants.LoadoutLimit]
	}
	return result, nil
}

// UpdateAll refreshes match counts of every player, then the derived
// summaries of players, groups and the whole tracker that are older than
// StatsInterval.
func (s *StatsAggregator) UpdateAll(ctx context.Context) error {
	players, err := s.players.List(ctx)
	if err != nil {
		return err
	}
	groups := map[string]struct{}{}
	for _, p := range players {
		if err := s.MatchesStatsUpdate(ctx, p.Uno, domain.GameModeAll); err != nil {
			return err
		}
		if _, err := s.Recompute(ctx, p.Uno, false); err != nil {
			return err
		}
		if p.Group != "" {
			groups[p.Group] = struct{}{}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	for group := range groups {
		if _, err := s.Recompute(ctx, group, false); err != nil {
			return err
		}
	}
	_, err = s.Recompute(ctx, GroupAll, false)
	return err
}
