package service

import (
	"cod-tracker/internal/config"
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"cod-tracker/internal/store"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// GroupAll is the virtual group holding every tracked player.
const GroupAll = "all"

// GamesStatus owns the per-mode status and log structure of players and
// groups, and the cached target blobs in the shared store.
type GamesStatus struct {
	players *repository.PlayerRepository
	store   *store.Store
	journal *Journal
	cfg     *config.Config
	clock   clockwork.Clock
	logger  zerolog.Logger
}

func NewGamesStatus(players *repository.PlayerRepository, st *store.Store, journal *Journal, cfg *config.Config, clock clockwork.Clock, logger zerolog.Logger) *GamesStatus {
	return &GamesStatus{players: players, store: st, journal: journal, cfg: cfg, clock: clock, logger: logger}
}

// CachedPlayer reads the player blob from the shared store.
func (g *GamesStatus) CachedPlayer(ctx context.Context, uno string) (*domain.Player, error) {
	key := store.PlayerKey(uno)
	p := &domain.Player{}
	found, err := g.store.HGetJSON(ctx, key, "uno", &p.Uno)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, uno)
	}
	for field, dst := range map[string]any{
		"username":    &p.Username,
		"clantag":     &p.Clantag,
		"group":       &p.Group,
		"games":       &p.Games,
		"games_stats": &p.GamesStats,
	} {
		if _, err := g.store.HGetJSON(ctx, key, field, dst); err != nil {
			return nil, err
		}
	}
	if p.Games == nil {
		p.Games = domain.NewGames()
	}
	return p, nil
}

func (g *GamesStatus) writePlayer(ctx context.Context, p *domain.Player) error {
	return g.store.HSetJSON(ctx, store.PlayerKey(p.Uno), map[string]any{
		"uno":            p.Uno,
		"username":       p.Username,
		"clantag":        p.Clantag,
		"group":          p.Group,
		"games":          p.Games,
		"games_stats":    p.GamesStats,
		"chart":          p.Chart,
		"most_play_with": p.MostPlayWith,
		"loadout":        p.Loadout,
	})
}

// CachedGroup reads the group blob from the shared store.
func (g *GamesStatus) CachedGroup(ctx context.Context, name string) (*domain.Group, error) {
	key := store.GroupKey(name)
	group := &domain.Group{}
	found, err := g.store.HGetJSON(ctx, key, "uno", &group.Uno)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, name)
	}
	if _, err := g.store.HGetJSON(ctx, key, "players", &group.Players); err != nil {
		return nil, err
	}
	if _, err := g.store.HGetJSON(ctx, key, "games", &group.Games); err != nil {
		return nil, err
	}
	if group.Games == nil {
		group.Games = domain.NewGames()
	}
	return group, nil
}

// Members lists the unos of a group target; "all" resolves to the
// virtual group of every player.
func (g *GamesStatus) Members(ctx context.Context, target string) ([]string, error) {
	group, err := g.CachedGroup(ctx, target)
	if err != nil {
		return nil, err
	}
	return group.Players, nil
}

// Games returns the status structure of a target. Players are read from
// the database, groups from their cached blob.
func (g *GamesStatus) Games(ctx context.Context, target string) (domain.Games, error) {
	if domain.TargetTypeOf(target) == domain.TargetPlayer {
		p, err := g.players.Get(ctx, target)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
		}
		if err != nil {
			return nil, err
		}
		return p.Games, nil
	}
	group, err := g.CachedGroup(ctx, target)
	if err != nil {
		return nil, err
	}
	return group.Games, nil
}

// LogGameStatus prepends an update log to games[mode]. A previous log of
// another source younger than a minute is replaced.
func (g *GamesStatus) LogGameStatus(ctx context.Context, target string, mode domain.GameMode, dataType domain.DataType, records int) error {
	games, err := g.Games(ctx, target)
	if err != nil {
		return err
	}

	data := games.Get(mode)
	if dataType == domain.DataTypeStats && records > 0 {
		data.Matches.Stats.Played = records
	}

	logs := &data.Matches.Logs
	if dataType == domain.DataTypeStats {
		logs = &data.Stats.Logs
	}

	now := g.clock.Now().UTC()
	if len(*logs) > 0 {
		last := (*logs)[0]
		if last.Source != string(domain.DataTypeMatches) && now.Sub(last.Time) < constants.StaleLogWindow {
			*logs = (*logs)[1:]
		}
	}
	*logs = append([]domain.GameLog{{Uno: target, Records: records, Source: string(dataType), Time: now}}, *logs...)

	return g.SetGames(ctx, target, games)
}

// SetGames summarizes and persists games for target. For players the
// cached blobs of their groups are folded again.
func (g *GamesStatus) SetGames(ctx context.Context, target string, games domain.Games) error {
	summarizeGames(games, constants.GameLogsLimit)

	if domain.TargetTypeOf(target) != domain.TargetPlayer {
		return g.store.HSetJSON(ctx, store.GroupKey(target), map[string]any{"games": games})
	}

	if err := g.players.Update(ctx, target, map[string]any{"games": games}); err != nil {
		return fmt.Errorf("failed to save games of %s: %w", target, err)
	}
	if err := g.store.HSetJSON(ctx, store.PlayerKey(target), map[string]any{"games": games}); err != nil {
		return err
	}

	var group string
	if _, err := g.store.HGetJSON(ctx, store.PlayerKey(target), "group", &group); err != nil {
		return err
	}
	for _, name := range []string{group, GroupAll} {
		if name == "" {
			continue
		}
		if err := g.refoldGroup(ctx, name, target); err != nil {
			return err
		}
	}
	return nil
}

func (g *GamesStatus) refoldGroup(ctx context.Context, name, uno string) error {
	group, err := g.CachedGroup(ctx, name)
	if errors.Is(err, ErrTargetNotFound) {
		g.journal.Log(ctx, domain.LogTrackerError, uno, fmt.Sprintf("set games group [%s] not found", name), nil)
		return nil
	}
	if err != nil {
		return err
	}

	list := make([]domain.Games, 0, len(group.Players))
	for _, member := range group.Players {
		var games domain.Games
		found, err := g.store.HGetJSON(ctx, store.PlayerKey(member), "games", &games)
		if err != nil {
			return err
		}
		if found {
			list = append(list, games)
		}
	}
	return g.store.HSetJSON(ctx, store.GroupKey(name), map[string]any{"games": foldGames(list)})
}

// summarizeGames rebuilds games[all] logs and match stats from the
// concrete modes and trims every log list to limit, newest first.
func summarizeGames(games domain.Games, limit int) {
	all := games.Get(domain.GameModeAll)
	all.Stats.Logs = nil
	all.Matches.Logs = nil
	all.Matches.Stats = domain.MatchesStats{}

	for _, mode := range domain.GameModes {
		data := games.Get(mode)
		all.Stats.Logs = append(all.Stats.Logs, data.Stats.Logs...)
		for _, log := range data.Matches.Logs {
			if log.Records > 0 {
				all.Matches.Logs = append(all.Matches.Logs, log)
			}
		}
		all.Matches.Stats.Matches += data.Matches.Stats.Matches
		all.Matches.Stats.Fullmatches += data.Matches.Stats.Fullmatches
		all.Matches.Stats.Played += data.Matches.Stats.Played
	}

	for _, data := range games {
		data.Stats.Logs = newestLogs(data.Stats.Logs, limit)
		data.Matches.Logs = newestLogs(data.Matches.Logs, limit)
	}
}

func newestLogs(logs []domain.GameLog, limit int) []domain.GameLog {
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Time.After(logs[j].Time) })
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs
}

// foldGames derives a group status structure from its members: a mode is
// enabled when any member has it enabled, logs are merged and match stats
// summed.
func foldGames(list []domain.Games) domain.Games {
	folded := domain.NewGames()
	folded.Get(domain.GameModeAll).Status = int(domain.GameEnabled)

	for _, games := range list {
		for _, mode := range domain.GameModes {
			src, dst := games.Get(mode), folded.Get(mode)
			if domain.GameStatus(src.Status) == domain.GameEnabled {
				dst.Status = int(domain.GameEnabled)
			}
			dst.Stats.Logs = append(dst.Stats.Logs, src.Stats.Logs...)
			dst.Matches.Logs = append(dst.Matches.Logs, src.Matches.Logs...)
			dst.Matches.Stats.Matches += src.Matches.Stats.Matches
			dst.Matches.Stats.Fullmatches += src.Matches.Stats.Fullmatches
			dst.Matches.Stats.Played += src.Matches.Stats.Played
		}
	}
	summarizeGames(folded, constants.GameLogsLimit)
	return folded
}

func newestLogTime(logs []domain.GameLog) (time.Time, bool) {
	if len(logs) == 0 {
		return time.Time{}, false
	}
	newest := logs[0].Time
	for _, l := range logs[1:] {
		if l.Time.After(newest) {
			newest = l.Time
		}
	}
	return newest, true
}

// secondsWait returns how long remains of interval since t, or 0.
func (g *GamesStatus) secondsWait(t time.Time, interval time.Duration) int {
	remaining := interval - g.clock.Since(t)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

// ValidatePlayer checks whether dataType may run for the player in mode.
// It returns the display name on success and an *UpdateRejection otherwise.
func (g *GamesStatus) ValidatePlayer(p *domain.Player, mode domain.GameMode, dataType domain.DataType) (string, error) {
	username := p.DisplayName()
	parsed := p.Games.ParseStatus()

	if dataType == domain.DataTypeMatchesHistory && parsed != domain.ParsedNone {
		return "", reject("matches [%s] already parsed", username)
	}
	if dataType == domain.DataTypeFullmatchesPars || mode == domain.GameModeAll {
		return username, nil
	}
	if dataType == domain.DataTypeMatches && parsed == domain.ParsedNone {
		return "", reject("[%s] player not enabled", username)
	}

	data := p.Games.Get(mode)
	switch domain.GameStatus(data.Status) {
	case domain.GameNotEnabled:
		return "", reject("[%s] %s not enabled", username, mode)
	case domain.GameDisabled:
		return "", reject("[%s] %s disabled", username, mode)
	}

	switch dataType {
	case domain.DataTypeMatches:
		if last, ok := newestLogTime(data.Matches.Logs); ok {
			if wait := g.secondsWait(last, g.cfg.MatchesInterval); wait > 0 {
				return "", &UpdateRejection{Reason: "please wait", Time: last, SecondsWait: wait}
			}
		}
	case domain.DataTypeStats:
		if last, ok := newestLogTime(data.Stats.Logs); ok {
			if g.secondsWait(last, g.cfg.StatsInterval) > 0 {
				weeks := int(g.cfg.StatsInterval / (7 * 24 * time.Hour))
				return "", reject("time interval between updates [%d] weeks", weeks)
			}
		}
	}
	return username, nil
}

// ValidateGroup is ValidatePlayer for group targets.
func (g *GamesStatus) ValidateGroup(group *domain.Group, mode domain.GameMode, dataType domain.DataType) (string, error) {
	if len(group.Players) == 0 {
		return "", reject("players not found for group [%s]", group.Uno)
	}
	if dataType == domain.DataTypeMatches {
		if last, ok := newestLogTime(group.Games.Get(mode).Matches.Logs); ok {
			if g.secondsWait(last, time.Minute) > 0 {
				return "", reject("update already started wait a minute")
			}
			if wait := g.secondsWait(last, g.cfg.MatchesInterval); wait > 0 {
				return "", &UpdateRejection{Reason: "please wait", Time: last, SecondsWait: wait}
			}
		}
	}
	return group.Uno, nil
}

// RefreshCache rebuilds every player and group blob from the database.
func (g *GamesStatus) RefreshCache(ctx context.Context) error {
	players, err := g.players.List(ctx)
	if err != nil {
		return err
	}

	if _, err := g.store.DeletePattern(ctx, constants.PrefixPlayer+"*"); err != nil {
		return err
	}
	members := map[string][]string{GroupAll: {}}
	games := map[string][]domain.Games{GroupAll: {}}
	for i := range players {
		p := &players[i]
		if err := g.writePlayer(ctx, p); err != nil {
			return err
		}
		members[GroupAll] = append(members[GroupAll], p.Uno)
		games[GroupAll] = append(games[GroupAll], p.Games)
		if p.Group != "" && p.Group != GroupAll {
			members[p.Group] = append(members[p.Group], p.Uno)
			games[p.Group] = append(games[p.Group], p.Games)
		}
	}

	if _, err := g.store.DeletePattern(ctx, constants.PrefixGroup+"*"); err != nil {
		return err
	}
	for name, unos := range members {
		err := g.store.HSetJSON(ctx, store.GroupKey(name), map[string]any{
			"uno":     name,
			"players": unos,
			"games":   foldGames(games[name]),
		})
		if err != nil {
			return err
		}
	}

	g.logger.Info().Int("players", len(players)).Int("groups", len(members)).Msg("players cache updated")
	return nil
}

// SaveDerived stores the derived summaries of a target.
func (g *GamesStatus) SaveDerived(ctx context.Context, target string, blob *domain.StatsBlob) error {
	fields := map[string]any{
		"chart":          blob.Chart,
		"most_play_with": blob.MostPlayWith,
		"loadout":        blob.Loadout,
		"stats_time":     blob.Time,
	}
	if domain.TargetTypeOf(target) == domain.TargetPlayer {
		err := g.players.Update(ctx, target, map[string]any{
			"chart":          blob.Chart,
			"most_play_with": blob.MostPlayWith,
			"loadout":        blob.Loadout,
		})
		if err != nil {
			return err
		}
		return g.store.HSetJSON(ctx, store.PlayerKey(target), fields)
	}
	return g.store.HSetJSON(ctx, store.GroupKey(target), fields)
}

// CachedDerived reads the derived summaries of a target, reporting false
// when none were stored yet.
func (g *GamesStatus) CachedDerived(ctx context.Context, target string) (*domain.StatsBlob, bool, error) {
	key := store.GroupKey(target)
	if domain.TargetTypeOf(target) == domain.TargetPlayer {
		key = store.PlayerKey(target)
	}
	blob := &domain.StatsBlob{}
	found, err := g.store.HGetJSON(ctx, key, "stats_time", &blob.Time)
	if err != nil || !found {
		return nil, false, err
	}
	for field, dst := range map[string]any{
		"chart":          &blob.Chart,
		"most_play_with": &blob.MostPlayWith,
		"loadout":        &blob.Loadout,
	} {
		if _, err := g.store.HGetJSON(ctx, key, field, dst); err != nil {
			return nil, false, err
		}
	}
	return blob, true, nil
}
