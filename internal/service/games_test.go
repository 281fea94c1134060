package service

import (
	"cod-tracker/internal/domain"
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidatePlayer(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()

	player := func(parsed domain.ParseStatus, status domain.GameStatus) *domain.Player {
		games := domain.NewGames()
		games.Get(domain.GameModeAll).Status = int(parsed)
		games.Get(domain.GameModeMwMp).Status = int(status)
		return &domain.Player{Uno: "1", Username: []string{"tester"}, Games: games}
	}
	withLog := func(p *domain.Player, at time.Time) *domain.Player {
		data := p.Games.Get(domain.GameModeMwMp)
		data.Matches.Logs = []domain.GameLog{{Uno: "1", Source: "matches", Time: at}}
		data.Stats.Logs = []domain.GameLog{{Uno: "1", Source: "stats", Time: at}}
		return p
	}

	tests := []struct {
		name     string
		player   *domain.Player
		mode     domain.GameMode
		dataType domain.DataType
		want     string
		wait     int
	}{
		{"history already parsed", player(domain.ParsedMatches, domain.GameEnabled), domain.GameModeMwMp, domain.DataTypeMatchesHistory, "matches [tester] already parsed", 0},
		{"player not enabled", player(domain.ParsedNone, domain.GameEnabled), domain.GameModeMwMp, domain.DataTypeMatches, "[tester] player not enabled", 0},
		{"mode not enabled", player(domain.ParsedMatches, domain.GameNotEnabled), domain.GameModeMwMp, domain.DataTypeMatches, "[tester] mw_mp not enabled", 0},
		{"mode disabled", player(domain.ParsedMatches, domain.GameDisabled), domain.GameModeMwMp, domain.DataTypeStats, "[tester] mw_mp disabled", 0},
		{"please wait", withLog(player(domain.ParsedMatches, domain.GameEnabled), now.Add(-10*time.Minute)), domain.GameModeMwMp, domain.DataTypeMatches, "please wait", 20 * 60},
		{"stats interval", withLog(player(domain.ParsedMatches, domain.GameEnabled), now.Add(-24*time.Hour)), domain.GameModeMwMp, domain.DataTypeStats, "time interval between updates [3] weeks", 0},
		{"matches allowed", withLog(player(domain.ParsedMatches, domain.GameEnabled), now.Add(-time.Hour)), domain.GameModeMwMp, domain.DataTypeMatches, "", 0},
		{"fullmatches ignores mode", player(domain.ParsedMatches, domain.GameNotEnabled), domain.GameModeMwMp, domain.DataTypeFullmatchesPars, "", 0},
		{"mode all skips mode checks", player(domain.ParsedMatches, domain.GameNotEnabled), domain.GameModeAll, domain.DataTypeMatches, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			username, err := h.games.ValidatePlayer(tt.player, tt.mode, tt.dataType)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				if username != "tester" {
					t.Errorf("username = %q, want tester", username)
				}
				return
			}
			var rejection *UpdateRejection
			if !errors.As(err, &rejection) {
				t.Fatalf("err = %v, want an UpdateRejection", err)
			}
			if rejection.Reason != tt.want {
				t.Errorf("reason = %q, want %q", rejection.Reason, tt.want)
			}
			if rejection.SecondsWait != tt.wait {
				t.Errorf("seconds wait = %d, want %d", rejection.SecondsWait, tt.wait)
			}
		})
	}
}

func TestValidateGroup(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()

	empty := &domain.Group{Uno: "squad", Games: domain.NewGames()}
	if _, err := h.games.ValidateGroup(empty, domain.GameModeMwMp, domain.DataTypeMatches); err == nil {
		t.Error("group without players was accepted")
	}

	group := &domain.Group{Uno: "squad", Players: []string{"1"}, Games: domain.NewGames()}
	group.Games.Get(domain.GameModeMwMp).Matches.Logs = []domain.GameLog{{Uno: "squad", Time: now.Add(-30 * time.Second)}}
	_, err := h.games.ValidateGroup(group, domain.GameModeMwMp, domain.DataTypeMatches)
	var rejection *UpdateRejection
	if !errors.As(err, &rejection) || rejection.Reason != "update already started wait a minute" {
		t.Errorf("err = %v, want update already started", err)
	}

	group.Games.Get(domain.GameModeMwMp).Matches.Logs[0].Time = now.Add(-time.Hour)
	name, err := h.games.ValidateGroup(group, domain.GameModeMwMp, domain.DataTypeMatches)
	if err != nil || name != "squad" {
		t.Errorf("ValidateGroup = %q, %v", name, err)
	}
}

func TestLogGameStatusReplacesRecentLogOfOtherSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "10", "logger", domain.ParsedMatches, domain.GameModeCwMp)

	if err := h.games.LogGameStatus(ctx, "10", domain.GameModeCwMp, domain.DataTypeMatchesHistory, 0); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(10 * time.Second)
	if err := h.games.LogGameStatus(ctx, "10", domain.GameModeCwMp, domain.DataTypeMatchesHistory, 40); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Minute)
	if err := h.games.LogGameStatus(ctx, "10", domain.GameModeCwMp, domain.DataTypeMatches, 0); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(10 * time.Second)
	if err := h.games.LogGameStatus(ctx, "10", domain.GameModeCwMp, domain.DataTypeMatches, 5); err != nil {
		t.Fatal(err)
	}

	games, err := h.games.Games(ctx, "10")
	if err != nil {
		t.Fatal(err)
	}
	logs := games.Get(domain.GameModeCwMp).Matches.Logs
	if len(logs) != 3 {
		t.Fatalf("got %d logs, want 3: %+v", len(logs), logs)
	}
	if logs[0].Records != 5 || logs[1].Records != 0 || logs[2].Records != 40 {
		t.Errorf("logs = %+v", logs)
	}

	all := games.Get(domain.GameModeAll).Matches.Logs
	if len(all) != 2 {
		t.Errorf("summary kept %d logs, want the 2 with records", len(all))
	}
	if games.ParseStatus() != domain.ParsedMatches {
		t.Errorf("summary changed the parse status to %d", games.ParseStatus())
	}
}

func TestSummarizeGamesTrimsLogs(t *testing.T) {
	games := domain.NewGames()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		games.Get(domain.GameModeMwMp).Matches.Logs = append(games.Get(domain.GameModeMwMp).Matches.Logs,
			domain.GameLog{Records: i + 1, Time: base.Add(time.Duration(i) * time.Minute)})
	}
	games.Get(domain.GameModeMwMp).Matches.Stats = domain.MatchesStats{Matches: 3, Fullmatches: 1, Played: 9}
	games.Get(domain.GameModeCwMp).Matches.Stats = domain.MatchesStats{Matches: 2, Played: 4}

	summarizeGames(games, 10)

	logs := games.Get(domain.GameModeMwMp).Matches.Logs
	if len(logs) != 10 || logs[0].Records != 15 {
		t.Errorf("mw_mp logs = %d, newest records %d", len(logs), logs[0].Records)
	}
	if got := games.Get(domain.GameModeAll).Matches.Stats; got != (domain.MatchesStats{Matches: 5, Fullmatches: 1, Played: 13}) {
		t.Errorf("all stats = %+v", got)
	}
}

func TestFoldGamesEnablesModeOfAnyMember(t *testing.T) {
	a, b := domain.NewGames(), domain.NewGames()
	a.Get(domain.GameModeMwWz).Status = int(domain.GameEnabled)
	b.Get(domain.GameModeMwWz).Status = int(domain.GameDisabled)
	b.Get(domain.GameModeCwMp).Status = int(domain.GameDisabled)

	folded := foldGames([]domain.Games{a, b})
	if folded.Status(domain.GameModeMwWz) != domain.GameEnabled {
		t.Error("mw_wz should be enabled for the group")
	}
	if folded.Status(domain.GameModeCwMp) == domain.GameEnabled {
		t.Error("cw_mp should not be enabled for the group")
	}
}

func TestRefreshCacheBuildsGroups(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, p := range []*domain.Player{
		{Uno: "1", Username: []string{"one"}, Group: "squad"},
		{Uno: "2", Username: []string{"two"}, Group: "squad"},
		{Uno: "3", Username: []string{"three"}},
	} {
		if err := h.players.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.store.SetString(ctx, "player:uno_gone", "x"); err != nil {
		t.Fatal(err)
	}

	if err := h.games.RefreshCache(ctx); err != nil {
		t.Fatal(err)
	}

	squad, err := h.games.CachedGroup(ctx, "squad")
	if err != nil {
		t.Fatal(err)
	}
	if len(squad.Players) != 2 {
		t.Errorf("squad players = %v", squad.Players)
	}
	all, err := h.games.CachedGroup(ctx, GroupAll)
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Players) != 3 {
		t.Errorf("all players = %v", all.Players)
	}
	if exists, _ := h.store.Exists(ctx, "player:uno_gone"); exists {
		t.Error("stale player blob survived the refresh")
	}
	p, err := h.games.CachedPlayer(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if p.Group != "squad" || p.DisplayName() != "two" {
		t.Errorf("cached player = %+v", p)
	}
}
