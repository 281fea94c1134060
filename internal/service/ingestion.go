package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/config"
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/metrics"
	"cod-tracker/internal/repository"
	"cod-tracker/internal/store"
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// MatchIngestionEngine paginates provider match lists into the rolling
// tables and keeps the per-target stats in step.
type MatchIngestionEngine struct {
	players   *repository.PlayerRepository
	matches   *repository.MatchRepository
	fetcher   *GameDataFetcher
	formatter *MatchFormatter
	promoter  *Promoter
	stats     *StatsAggregator
	games     *GamesStatus
	store     *store.Store
	journal   *Journal
	backoff   *Backoff
	cfg       *config.Config
	logger    zerolog.Logger
}

func NewMatchIngestionEngine(
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	fetcher *GameDataFetcher,
	formatter *MatchFormatter,
	promoter *Promoter,
	stats *StatsAggregator,
	games *GamesStatus,
	st *store.Store,
	journal *Journal,
	backoff *Backoff,
	cfg *config.Config,
	logger zerolog.Logger,
) *MatchIngestionEngine {
	return &MatchIngestionEngine{
		players:   players,
		matches:   matches,
		fetcher:   fetcher,
		formatter: formatter,
		promoter:  promoter,
		stats:     stats,
		games:     games,
		store:     st,
		journal:   journal,
		backoff:   backoff,
		cfg:       cfg,
		logger:    logger,
	}
}

func (e *MatchIngestionEngine) player(ctx context.Context, uno string) (*domain.Player, error) {
	p, err := e.players.Get(ctx, uno)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, uno)
	}
	return p, err
}

// fetchFromPlatforms tries the player's tags in platform priority order
// and returns the first payload along with the tag and platform that
// produced it.
func (e *MatchIngestionEngine) fetchFromPlatforms(ctx context.Context, p *domain.Player, mode domain.GameMode, dataType domain.DataType, start int64) (json.RawMessage, api.Request, error) {
	attempts := constants.FetchAttemptsLocal
	if e.fetcher.HasToken() {
		attempts = constants.FetchAttemptsWithToken
	}

	for i := 0; i < attempts; i++ {
		for _, platform := range domain.PlatformPriority {
			tag := p.PlatformTag(platform)
			if tag == "" {
				continue
			}
			r := api.Request{Target: tag, GameMode: mode, DataType: dataType, Platform: platform, StartTime: start}
			payload, err := e.fetcher.Fetch(ctx, r, false)
			if err != nil {
				return nil, r, err
			}
			if payload != nil {
				return payload, r, nil
			}
		}
	}
	return nil, api.Request{}, nil
}

// decodeMatches returns the decodable entries of a page and the number of
// entries that were skipped.
func (e *MatchIngestionEngine) decodeMatches(ctx context.Context, uno string, mode domain.GameMode, payload json.RawMessage) ([]ProviderMatch, int, error) {
	if payload == nil {
		return nil, 0, nil
	}
	var page ProviderMatches
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, 0, fmt.Errorf("failed to decode matches page: %w", err)
	}
	matches := decodeEntries(page.Matches, func(i int, err error) {
		e.journal.Log(ctx, domain.LogTrackerError, uno, fmt.Sprintf("%s match %d skipped: %v", mode, i, err), nil)
	})
	return matches, len(page.Matches) - len(matches), nil
}

// UpdateMatches ingests new matches of uno in one concrete mode and
// returns the number of rows written. Fresh updates walk from now back to
// the newest stored match; matches_history walks back from the oldest one.
func (e *MatchIngestionEngine) UpdateMatches(ctx context.Context, uno string, mode domain.GameMode, dataType domain.DataType) (int, error) {
	if err := e.games.LogGameStatus(ctx, uno, mode, dataType, 0); err != nil {
		return 0, err
	}
	p, err := e.player(ctx, uno)
	if err != nil {
		return 0, err
	}

	history := dataType == domain.DataTypeMatchesHistory
	var start, end int64
	if history {
		start, err = e.matches.BoundaryTime(ctx, mode, uno, false)
	} else {
		end, err = e.matches.BoundaryTime(ctx, mode, uno, true)
	}
	if err != nil {
		return 0, err
	}

	payload, req, err := e.fetchFromPlatforms(ctx, p, mode, domain.DataTypeMatches, start)
	if err != nil {
		return 0, err
	}
	page, bad, err := e.decodeMatches(ctx, uno, mode, payload)
	if err != nil {
		return 0, err
	}

	target := uno + " " + p.DisplayName()
	total, preLimit, lastProgress := 0, 0, 0

	for {
		records := make([]domain.MatchRecord, 0, len(page))
		for _, pm := range page {
			if pm.UtcStartSeconds <= end {
				continue
			}
			if pm.MatchID == "" {
				e.journal.Log(ctx, domain.LogTrackerError, uno, fmt.Sprintf("%s match without id skipped", mode), nil)
				continue
			}
			record, err := e.formatter.Format(ctx, pm, mode)
			if err != nil {
				return total, err
			}
			if record.Uno == "" {
				record.Uno = uno
			}
			records = append(records, record)
		}
		if len(records) == 0 {
			break
		}

		if err := e.matches.InsertPage(ctx, mode, records); err != nil {
			return total, err
		}
		metrics.MatchesIngested.WithLabelValues(string(mode)).Add(float64(len(records)))

		if !history && mode.IsMW() {
			for _, record := range records {
				_, err := e.promoter.PromoteMatch(ctx, record.MatchID, mode, record.Time.Year())
				if errors.Is(err, repository.ErrUnknownPartition) {
					e.journal.Log(ctx, domain.LogTrackerError, record.MatchID, err.Error(), nil)
					continue
				}
				if err != nil {
					return total, err
				}
			}
		}

		total += len(records)
		preLimit += len(records)
		if len(records)+bad < e.cfg.MatchesLimit {
			break
		}

		if history {
			if step := e.cfg.ParsProgressStep; step > 0 && total-lastProgress >= step {
				if err := e.games.LogGameStatus(ctx, uno, mode, dataType, total); err != nil {
					return total, err
				}
				lastProgress = total
			}
			if e.cfg.ParsPreLimit > 0 && preLimit > e.cfg.ParsPreLimit {
				if err := e.backoff.MakeBreak(ctx, target, mode, fmt.Sprintf("matches history pre limit %d", preLimit), e.cfg.SoftBreakMinutes); err != nil {
					return total, err
				}
				preLimit = 0
			}
		}

		req.StartTime = page[len(page)-1].UtcStartSeconds
		payload, err = e.fetcher.Fetch(ctx, req, false)
		if err != nil {
			return total, err
		}
		if payload == nil {
			if !history || !e.fetcher.HasToken() {
				break
			}
			if err := e.backoff.MakeBreak(ctx, target, mode, "matches history retry", constants.HistoryRetryBreakMinute); err != nil {
				return total, err
			}
			preLimit = 0
			if payload, err = e.fetcher.Fetch(ctx, req, false); err != nil {
				return total, err
			}
		}
		if page, bad, err = e.decodeMatches(ctx, uno, mode, payload); err != nil {
			return total, err
		}
	}

	if total == 0 {
		return 0, nil
	}

	for _, column := range e.formatter.NewColumns() {
		e.journal.Log(ctx, domain.LogTrackerError, target+" new column found", column, nil)
	}
	e.journal.Cache(ctx, target, mode, fmt.Sprintf("matches %d found", total))
	if err := e.store.Delete(ctx, store.MatchesKey(string(domain.PlatformUno), uno, string(mode))); err != nil {
		e.logger.Warn().Err(err).Str("uno", uno).Msg("failed to drop cached matches")
	}
	if err := e.games.LogGameStatus(ctx, uno, mode, dataType, total); err != nil {
		return total, err
	}
	if err := e.stats.PlayerMatchesStatsUpdate(ctx, uno, mode); err != nil {
		return total, err
	}
	return total, nil
}

// UpdateStats refreshes the lifetime snapshot of uno for the title of
// mode and the cross-title summary.
func (e *MatchIngestionEngine) UpdateStats(ctx context.Context, uno string, mode domain.GameMode) error {
	if err := e.games.LogGameStatus(ctx, uno, mode, domain.DataTypeStats, 0); err != nil {
		return err
	}
	p, err := e.player(ctx, uno)
	if err != nil {
		return err
	}

	payload, _, err := e.fetchFromPlatforms(ctx, p, mode, domain.DataTypeStats, 0)
	if err != nil || payload == nil {
		return err
	}
	var stats ProviderStats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return fmt.Errorf("failed to decode stats of %s: %w", uno, err)
	}
	if stats.Title == "" || stats.Lifetime == nil {
		return nil
	}

	game, _ := mode.Split()
	if p.GamesStats == nil {
		p.GamesStats = make(map[string]*domain.GameStats)
	}
	p.GamesStats[game] = FormatLifetime(stats.Lifetime, game)
	SummarizeTitles(p.GamesStats)

	if err := e.players.Update(ctx, uno, map[string]any{"games_stats": p.GamesStats}); err != nil {
		return err
	}
	if err := e.store.HSetJSON(ctx, store.PlayerKey(uno), map[string]any{"games_stats": p.GamesStats}); err != nil {
		return err
	}
	return e.games.LogGameStatus(ctx, uno, mode, domain.DataTypeStats, p.GamesStats[game].Played())
}

// UpdatePlayer runs dataType for every enabled mode of uno covered by mode.
func (e *MatchIngestionEngine) UpdatePlayer(ctx context.Context, uno string, mode domain.GameMode, dataType domain.DataType) (int, error) {
	p, err := e.player(ctx, uno)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, m := range mode.Expand() {
		if p.Games.Status(m) != domain.GameEnabled {
			continue
		}
		if dataType == domain.DataTypeStats {
			if err := e.UpdateStats(ctx, uno, m); err != nil {
				return total, err
			}
			continue
		}
		n, err := e.UpdateMatches(ctx, uno, m, dataType)
		total += n
		if err != nil {
			return total, err
		}
	}

	if dataType == domain.DataTypeMatchesHistory {
		games, err := e.games.Games(ctx, uno)
		if err != nil {
			return total, err
		}
		if games.ParseStatus() == domain.ParsedNone {
			games.Get(domain.GameModeAll).Status = int(domain.ParsedMatches)
			if err := e.games.SetGames(ctx, uno, games); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// UpdateGroup runs dataType for every eligible member of a group, stopping
// early when the tracker leaves active.
func (e *MatchIngestionEngine) UpdateGroup(ctx context.Context, group string, mode domain.GameMode, dataType domain.DataType) (int, error) {
	members, err := e.games.Members(ctx, group)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPlayers, group)
	}

	for _, m := range mode.Expand() {
		if err := e.games.LogGameStatus(ctx, group, m, dataType, 0); err != nil {
			return 0, err
		}
	}

	total := 0
	for _, uno := range members {
		status, err := e.store.Status(ctx)
		if err != nil {
			return total, err
		}
		if status != domain.TrackerActive {
			e.journal.Cache(ctx, group, mode, fmt.Sprintf("group update stopped, status %s", status))
			break
		}

		p, err := e.players.Get(ctx, uno)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return total, err
		}
		parsed := p.Games.ParseStatus()
		if parsed == domain.ParsedNone || parsed == domain.ParsedAllAndDisabled {
			continue
		}

		n, err := e.UpdatePlayer(ctx, uno, mode, dataType)
		total += n
		if err != nil {
			return total, err
		}
	}

	if dataType != domain.DataTypeStats {
		e.journal.Cache(ctx, group, mode, fmt.Sprintf("matches %d found from %d players", total, len(members)))
	}
	for _, m := range mode.Expand() {
		if err := e.games.LogGameStatus(ctx, group, m, dataType, total); err != nil {
			return total, err
		}
	}
	return total, nil
}
