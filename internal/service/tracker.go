package service

import (
	"cod-tracker/internal/codec"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/metrics"
	"cod-tracker/internal/repository"
	"cod-tracker/internal/store"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Enqueuer adds tasks to the shared queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, target string, mode domain.GameMode, dataType domain.DataType) (domain.EnqueueStatus, error)
}

// TrackerService is the caller-facing side of the tracker used by the
// HTTP layer.
type TrackerService struct {
	players  *repository.PlayerRepository
	matches  *repository.MatchRepository
	codec    *codec.Codec
	games    *GamesStatus
	engine   *MatchIngestionEngine
	stats    *StatsAggregator
	loader   *FullmatchLoader
	store    *store.Store
	journal  *Journal
	enqueuer Enqueuer
	logger   zerolog.Logger
}

func NewTrackerService(
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	c *codec.Codec,
	games *GamesStatus,
	engine *MatchIngestionEngine,
	stats *StatsAggregator,
	loader *FullmatchLoader,
	st *store.Store,
	journal *Journal,
	enqueuer Enqueuer,
	logger zerolog.Logger,
) *TrackerService {
	return &TrackerService{
		players:  players,
		matches:  matches,
		codec:    c,
		games:    games,
		engine:   engine,
		stats:    stats,
		loader:   loader,
		store:    st,
		journal:  journal,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// RequestUpdate validates an update of target and queues it. The data
// type "all" queues a stats and a matches update.
func (t *TrackerService) RequestUpdate(ctx context.Context, target string, mode domain.GameMode, dataType domain.DataType) (string, error) {
	if dataType != domain.DataTypeAll {
		return t.validateUpdate(ctx, target, mode, dataType)
	}

	_, statsErr := t.validateUpdate(ctx, target, mode, domain.DataTypeStats)
	_, matchesErr := t.validateUpdate(ctx, target, mode, domain.DataTypeMatches)
	if statsErr != nil && matchesErr != nil {
		return "", matchesErr
	}
	return fmt.Sprintf("%s and %s start update", domain.DataTypeStats, domain.DataTypeMatches), nil
}

func (t *TrackerService) validateUpdate(ctx context.Context, target string, mode domain.GameMode, dataType domain.DataType) (string, error) {
	var validated string
	if domain.TargetTypeOf(target) == domain.TargetPlayer {
		p, err := t.games.CachedPlayer(ctx, target)
		if err != nil {
			return "", err
		}
		if validated, err = t.games.ValidatePlayer(p, mode, dataType); err != nil {
			return "", err
		}
	} else {
		g, err := t.games.CachedGroup(ctx, target)
		if err != nil {
			return "", err
		}
		if validated, err = t.games.ValidateGroup(g, mode, dataType); err != nil {
			return "", err
		}
	}

	status, err := t.store.Status(ctx)
	if err != nil {
		return "", err
	}
	if status != domain.TrackerActive {
		return "", reject("fetch data %s", status)
	}

	queued, err := t.enqueuer.Enqueue(ctx, target, mode, dataType)
	if err != nil {
		return "", err
	}
	if !queued.Pushed() {
		return "", &UpdateRejection{Reason: fmt.Sprintf("%s %s %s %s", validated, mode, dataType, queued), Conflict: true}
	}
	return fmt.Sprintf("%s | %s | %s | %s", validated, mode, dataType, queued), nil
}

func (t *TrackerService) Status(ctx context.Context) (domain.TrackerStatus, error) {
	return t.store.Status(ctx)
}

func (t *TrackerService) SetStatus(ctx context.Context, status domain.TrackerStatus) error {
	if err := t.store.SetStatus(ctx, status); err != nil {
		return err
	}
	metrics.ObserveStatus(status)
	t.journal.Log(ctx, domain.LogTracker, "status", fmt.Sprintf("status set to %s", status), nil)
	return nil
}

// PlayerStats returns a player with its derived summaries filled in,
// recomputing them when stale.
func (t *TrackerService) PlayerStats(ctx context.Context, uno string) (*domain.Player, error) {
	p, err := t.players.Get(ctx, uno)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, uno)
	}
	if err != nil {
		return nil, err
	}
	blob, err := t.stats.Recompute(ctx, uno, false)
	if err != nil {
		return nil, err
	}
	p.Chart = blob.Chart
	p.MostPlayWith = blob.MostPlayWith
	p.Loadout = blob.Loadout
	return p, nil
}

// AddPlayer stores a new player and rebuilds the target cache.
func (t *TrackerService) AddPlayer(ctx context.Context, p *domain.Player) error {
	if err := t.players.Create(ctx, p); err != nil {
		return err
	}
	t.journal.Log(ctx, domain.LogTrackerPlayer, p.Uno, "player added", map[string]any{"group": p.Group})
	return t.games.RefreshCache(ctx)
}

// SetGameStatus enables or disables ingestion of one mode for a player.
func (t *TrackerService) SetGameStatus(ctx context.Context, uno string, mode domain.GameMode, status domain.GameStatus) error {
	if mode == domain.GameModeAll {
		return reject("[%s] %s has no game status", uno, mode)
	}
	games, err := t.games.Games(ctx, uno)
	if err != nil {
		return err
	}
	games.Get(mode).Status = int(status)
	if err := t.games.SetGames(ctx, uno, games); err != nil {
		return err
	}
	t.journal.Log(ctx, domain.LogTrackerPlayer, uno, fmt.Sprintf("%s game status %d", mode, status), nil)
	return nil
}

// DeletePlayer removes a player with its rows and logs.
func (t *TrackerService) DeletePlayer(ctx context.Context, uno string) error {
	err := t.players.Delete(ctx, uno)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, uno)
	}
	if err != nil {
		return err
	}
	t.journal.Log(ctx, domain.LogTracker, uno, "player deleted", nil)
	return t.games.RefreshCache(ctx)
}

// ClearDoubles repairs one player's rolling rows when uno is set, or one
// fullmatches partition otherwise.
func (t *TrackerService) ClearDoubles(ctx context.Context, uno string, mode domain.GameMode, year int) (int64, error) {
	if uno != "" {
		return t.engine.ClearPlayerMatchDoubles(ctx, uno, mode)
	}
	return t.engine.ClearFullmatchDoubles(ctx, mode, year)
}

// CacheLogs returns the progress feed, newest first.
func (t *TrackerService) CacheLogs(ctx context.Context) ([]domain.CacheLog, error) {
	return t.store.CacheLogs(ctx)
}
