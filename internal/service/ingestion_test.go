package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/store"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func matchesPage(t *testing.T, uno string, starts ...int64) *api.Response {
	t.Helper()
	page := ProviderMatches{}
	for i, start := range starts {
		page.Matches = append(page.Matches, entries(t, providerMatch(fmt.Sprintf("m%d-%d", start, i), uno, start))...)
	}
	return payload(t, page)
}

// descending start times, newest first as the provider returns them
func startTimes(newest time.Time, n int) []int64 {
	starts := make([]int64, n)
	for i := range starts {
		starts[i] = newest.Add(-time.Duration(i) * time.Hour).Unix()
	}
	return starts
}

func TestUpdateMatchesNewPlayerScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "123", "tester", domain.ParsedMatches, domain.GameModeMwWz)

	cacheKey := store.MatchesKey(string(domain.PlatformUno), "123", string(domain.GameModeMwWz))
	if err := h.store.SetString(ctx, cacheKey, "stale"); err != nil {
		t.Fatal(err)
	}

	starts := startTimes(time.Date(2021, 6, 1, 20, 0, 0, 0, time.UTC), 3)
	h.provider.respond = func(r api.Request) (*api.Response, error) {
		if r.DataType == domain.DataTypeMatches {
			return matchesPage(t, "123", starts...), nil
		}
		return notFound(r)
	}

	n, err := h.engine.UpdateMatches(ctx, "123", domain.GameModeMwWz, domain.DataTypeMatches)
	if err != nil {
		t.Fatalf("UpdateMatches: %v", err)
	}
	if n != 3 {
		t.Fatalf("UpdateMatches = %d, want 3", n)
	}
	if got := h.countRows(t, "matches_mw_wz", "uno = ?", "123"); got != 3 {
		t.Errorf("matches_mw_wz rows = %d, want 3", got)
	}
	if got := len(h.provider.callsOf(domain.DataTypeMatches)); got != 1 {
		t.Errorf("matches fetches = %d, want 1", got)
	}
	if got := len(h.provider.callsOf(domain.DataTypeFullmatches)); got != 3 {
		t.Errorf("eager fullmatches fetches = %d, want 3", got)
	}

	logs, err := h.store.CacheLogs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, l := range logs {
		if strings.Contains(l.Message, "3 found") {
			found = true
		}
	}
	if !found {
		t.Errorf("no progress log mentions %q in %+v", "3 found", logs)
	}

	if exists, _ := h.store.Exists(ctx, cacheKey); exists {
		t.Error("cached matches listing was not dropped")
	}

	games, err := h.games.Games(ctx, "123")
	if err != nil {
		t.Fatal(err)
	}
	if got := games.Get(domain.GameModeMwWz).Matches.Stats.Matches; got != 3 {
		t.Errorf("games stats matches = %d, want 3", got)
	}
}

func TestUpdateMatchesStopsOnShortPage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "200", "short", domain.ParsedMatches, domain.GameModeCwMp)

	limit := h.cfg.MatchesLimit
	starts := startTimes(time.Date(2022, 1, 10, 0, 0, 0, 0, time.UTC), limit-1)
	h.provider.respond = func(r api.Request) (*api.Response, error) {
		return matchesPage(t, "200", starts...), nil
	}

	n, err := h.engine.UpdateMatches(ctx, "200", domain.GameModeCwMp, domain.DataTypeMatches)
	if err != nil {
		t.Fatal(err)
	}
	if n != limit-1 {
		t.Errorf("UpdateMatches = %d, want %d", n, limit-1)
	}
	if got := len(h.provider.callsOf(domain.DataTypeMatches)); got != 1 {
		t.Errorf("matches fetches = %d, want 1", got)
	}
}

func TestUpdateMatchesFollowsPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "300", "pager", domain.ParsedMatches, domain.GameModeCwMp)

	limit := h.cfg.MatchesLimit
	all := startTimes(time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC), limit+5)
	first, second := all[:limit], all[limit:]

	h.provider.respond = func(r api.Request) (*api.Response, error) {
		if r.StartTime == 0 {
			return matchesPage(t, "300", first...), nil
		}
		return matchesPage(t, "300", second...), nil
	}

	n, err := h.engine.UpdateMatches(ctx, "300", domain.GameModeCwMp, domain.DataTypeMatches)
	if err != nil {
		t.Fatal(err)
	}
	if n != limit+5 {
		t.Errorf("UpdateMatches = %d, want %d", n, limit+5)
	}
	calls := h.provider.callsOf(domain.DataTypeMatches)
	if len(calls) != 2 {
		t.Fatalf("matches fetches = %d, want 2", len(calls))
	}
	if calls[1].StartTime != first[len(first)-1] {
		t.Errorf("second page start = %d, want %d", calls[1].StartTime, first[len(first)-1])
	}
}

func TestUpdateMatchesSkipsKnownMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "400", "again", domain.ParsedMatches, domain.GameModeVgMp)

	starts := startTimes(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC), 2)
	h.provider.respond = func(r api.Request) (*api.Response, error) {
		return matchesPage(t, "400", starts...), nil
	}

	if _, err := h.engine.UpdateMatches(ctx, "400", domain.GameModeVgMp, domain.DataTypeMatches); err != nil {
		t.Fatal(err)
	}
	n, err := h.engine.UpdateMatches(ctx, "400", domain.GameModeVgMp, domain.DataTypeMatches)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second UpdateMatches = %d, want 0", n)
	}
	if got := h.countRows(t, "matches_vg_mp", "uno = ?", "400"); got != 2 {
		t.Errorf("rows = %d, want 2", got)
	}
}

func TestUpdateMatchesKeepsOwnerWhenUnoMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "500", "anon", domain.ParsedMatches, domain.GameModeCwMp)

	h.provider.respond = func(r api.Request) (*api.Response, error) {
		page := ProviderMatches{Matches: entries(t,
			providerMatch("anon-1", "", time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC).Unix()),
			providerMatch("", "500", time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC).Unix()),
		)}
		return payload(t, page), nil
	}

	n, err := h.engine.UpdateMatches(ctx, "500", domain.GameModeCwMp, domain.DataTypeMatches)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("UpdateMatches = %d, want 1", n)
	}
	if got := h.countRows(t, "matches_cw_mp", "uno = ? AND match_id = ?", "500", "anon-1"); got != 1 {
		t.Errorf("owner row count = %d, want 1", got)
	}
}

func TestMatchesHistoryMarksPlayerParsed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "600", "history", domain.ParsedNone, domain.GameModeCwMp)

	starts := startTimes(time.Date(2021, 1, 5, 0, 0, 0, 0, time.UTC), 4)
	h.provider.respond = func(r api.Request) (*api.Response, error) {
		return matchesPage(t, "600", starts...), nil
	}

	n, err := h.engine.UpdatePlayer(ctx, "600", domain.GameModeAll, domain.DataTypeMatchesHistory)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("UpdatePlayer = %d, want 4", n)
	}

	games, err := h.games.Games(ctx, "600")
	if err != nil {
		t.Fatal(err)
	}
	if got := games.ParseStatus(); got != domain.ParsedMatches {
		t.Errorf("parse status = %d, want %d", got, domain.ParsedMatches)
	}
	calls := h.provider.callsOf(domain.DataTypeMatches)
	if len(calls) == 0 || calls[0].GameMode != domain.GameModeCwMp {
		t.Errorf("history fetched %+v, want only cw_mp", calls)
	}
}

func TestUpdateMatchesUnknownPlayer(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.UpdateMatches(context.Background(), "999", domain.GameModeMwMp, domain.DataTypeMatches)
	if err == nil {
		t.Fatal("expected an error for an unknown player")
	}
}

func TestUpdateMatchesSkipsMalformedEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "700", "broken", domain.ParsedMatches, domain.GameModeCwMp)

	starts := startTimes(time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC), 3)
	h.provider.respond = func(r api.Request) (*api.Response, error) {
		page := ProviderMatches{Matches: entries(t, providerMatch("good-1", "700", starts[0]))}
		page.Matches = append(page.Matches, json.RawMessage(fmt.Sprintf(
			`{"matchID":"bad-2","utcStartSeconds":%d,"duration":"oops","player":{"uno":"700"}}`, starts[1])))
		page.Matches = append(page.Matches, entries(t, providerMatch("good-3", "700", starts[2]))...)
		return payload(t, page), nil
	}

	n, err := h.engine.UpdateMatches(ctx, "700", domain.GameModeCwMp, domain.DataTypeMatches)
	if err != nil {
		t.Fatalf("UpdateMatches: %v", err)
	}
	if n != 2 {
		t.Errorf("UpdateMatches = %d, want 2", n)
	}
	if got := h.countRows(t, "matches_cw_mp", "uno = ?", "700"); got != 2 {
		t.Errorf("rows = %d, want 2", got)
	}
	if got := h.countRows(t, "matches_cw_mp", "match_id = ?", "bad-2"); got != 0 {
		t.Errorf("malformed entry stored %d rows", got)
	}

	logs, err := h.logs.List(ctx, domain.LogTrackerError, "700", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || !strings.Contains(logs[0].Message, "match 1 skipped") {
		t.Errorf("error logs = %+v, want one skipped entry", logs)
	}
}

func TestUnknownStatLoggedOncePerProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "800", "columns", domain.ParsedMatches, domain.GameModeCwMp)

	newest := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	pageOf := func(prefix string, start time.Time, n int) *api.Response {
		page := ProviderMatches{}
		for i, ts := range startTimes(start, n) {
			m := providerMatch(fmt.Sprintf("%s-%d", prefix, i), "800", ts)
			m.PlayerStats["brandNewStat"] = float64(i)
			page.Matches = append(page.Matches, entries(t, m)...)
		}
		return payload(t, page)
	}

	h.provider.respond = func(r api.Request) (*api.Response, error) {
		return pageOf("first", newest, 2), nil
	}
	if _, err := h.engine.UpdateMatches(ctx, "800", domain.GameModeCwMp, domain.DataTypeMatches); err != nil {
		t.Fatal(err)
	}

	h.provider.respond = func(r api.Request) (*api.Response, error) {
		return pageOf("second", newest.Add(48*time.Hour), 2), nil
	}
	n, err := h.engine.UpdateMatches(ctx, "800", domain.GameModeCwMp, domain.DataTypeMatches)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("second UpdateMatches = %d, want 2", n)
	}

	logs, err := h.logs.List(ctx, domain.LogTrackerError, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	found := 0
	for _, l := range logs {
		if l.Message == string(domain.GameModeCwMp)+" brandNewStat" {
			found++
		}
	}
	if found != 1 {
		t.Errorf("new column logs = %d, want 1 in %+v", found, logs)
	}
}
