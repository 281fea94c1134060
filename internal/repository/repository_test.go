package repository

import (
	"cod-tracker/internal/database"
	"cod-tracker/internal/domain"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "tracker.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func record(matchID, uno string, ts time.Time) domain.MatchRecord {
	return domain.MatchRecord{
		MatchID:  matchID,
		Uno:      uno,
		Username: "player" + uno,
		Time:     ts,
		Kills:    5,
		Deaths:   2,
		KdRatio:  2.5,
		Extra:    map[string]float64{"objectiveBrCacheOpen": 3},
	}
}

func TestPartitionsMatchSchema(t *testing.T) {
	db := openTestDB(t)
	if err := DefaultPartitions().Validate(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	extra := NewPartitions(map[domain.GameMode][]int{domain.GameModeCwMp: {0}})
	if err := extra.Validate(context.Background(), db); !errors.Is(err, ErrUnknownPartition) {
		t.Errorf("missing partition err = %v", err)
	}
}

func TestInsertPageAndQueries(t *testing.T) {
	db := openTestDB(t)
	repo := NewMatchRepository(db, DefaultPartitions(), zerolog.Nop())
	ctx := context.Background()
	base := time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC)

	page := []domain.MatchRecord{
		record("m1", "1", base),
		record("m2", "1", base.Add(time.Hour)),
		record("m2", "2", base.Add(time.Hour)),
	}
	page[1].Loadout = "1,2"
	if err := repo.InsertPage(ctx, domain.GameModeMwWz, page); err != nil {
		t.Fatal(err)
	}

	newest, err := repo.BoundaryTime(ctx, domain.GameModeMwWz, "1", true)
	if err != nil || newest != base.Add(time.Hour).Unix() {
		t.Errorf("newest = %d, %v", newest, err)
	}
	oldest, _ := repo.BoundaryTime(ctx, domain.GameModeMwWz, "1", false)
	if oldest != base.Unix() {
		t.Errorf("oldest = %d", oldest)
	}
	if none, _ := repo.BoundaryTime(ctx, domain.GameModeMwWz, "9", true); none != 0 {
		t.Errorf("boundary of unknown player = %d", none)
	}

	recent, err := repo.Recent(ctx, domain.GameModeMwWz, "1", 10, 0)
	if err != nil || len(recent) != 2 {
		t.Fatalf("recent = %d, %v", len(recent), err)
	}
	if recent[0].MatchID != "m2" || !recent[0].Time.Equal(base.Add(time.Hour)) {
		t.Errorf("recent[0] = %+v", recent[0])
	}
	if recent[1].Extra["objectiveBrCacheOpen"] != 3 {
		t.Errorf("extra = %v", recent[1].Extra)
	}

	refs, err := repo.PlayerMatchRefs(ctx, domain.GameModeMwWz, "1", "2")
	if err != nil || len(refs) != 2 || refs[0].MatchID != "m1" {
		t.Errorf("refs = %+v, %v", refs, err)
	}
	if n, _ := repo.DistinctMatches(ctx, domain.GameModeMwWz, "1"); n != 2 {
		t.Errorf("distinct = %d", n)
	}
	loadouts, _ := repo.Loadouts(ctx, domain.GameModeMwWz, []string{"1"})
	if len(loadouts) != 1 || loadouts[0] != "1,2" {
		t.Errorf("loadouts = %v", loadouts)
	}
	times, _ := repo.Times(ctx, domain.GameModeMwWz, nil)
	if len(times) != 3 {
		t.Errorf("times = %v", times)
	}
}

func TestPromoteMovesMatchOutOfBasic(t *testing.T) {
	db := openTestDB(t)
	repo := NewMatchRepository(db, DefaultPartitions(), zerolog.Nop())
	ctx := context.Background()
	ts := time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC)
	part, err := repo.Partitions().ResolveTime(domain.GameModeMwWz, ts)
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.InsertPage(ctx, domain.GameModeMwWz, []domain.MatchRecord{record("m1", "1", ts)}); err != nil {
		t.Fatal(err)
	}
	basic := []domain.MatchRecord{record("m1", "1", ts), record("m1", "2", ts)}
	if err := repo.InsertBasic(ctx, part, basic); err != nil {
		t.Fatal(err)
	}

	full := []domain.MatchRecord{record("m1", "1", ts), record("m1", "2", ts), record("m1", "3", ts)}
	removed, err := repo.Promote(ctx, part, "m1", full)
	if err != nil || removed != 2 {
		t.Fatalf("promote removed = %d, %v", removed, err)
	}

	if n, _ := repo.CountByMatch(ctx, part.Table(TierBasic), "m1"); n != 0 {
		t.Errorf("basic rows left = %d", n)
	}
	if found, _ := repo.InAnyMain(ctx, domain.GameModeMwWz, "m1"); !found {
		t.Error("match not found in main tier")
	}
	rows, _ := repo.MainRows(ctx, part, "m1")
	if len(rows) != 3 {
		t.Errorf("main rows = %d", len(rows))
	}
	if n, _ := repo.DistinctMatches(ctx, domain.GameModeMwWz, "1"); n != 1 {
		t.Errorf("rolling rows were touched: %d", n)
	}
	if n, _ := repo.PromotedMatches(ctx, domain.GameModeMwWz, "1"); n != 1 {
		t.Errorf("promoted = %d", n)
	}

	co, err := repo.CoPlayers(ctx, part, "1")
	if err != nil || len(co) != 2 {
		t.Fatalf("co-players = %+v, %v", co, err)
	}
	for _, pw := range co {
		if pw.Count != 1 || pw.Uno == "1" {
			t.Errorf("co-player = %+v", pw)
		}
	}
}

func TestDeleteDoubles(t *testing.T) {
	db := openTestDB(t)
	repo := NewMatchRepository(db, DefaultPartitions(), zerolog.Nop())
	ctx := context.Background()
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	page := []domain.MatchRecord{
		record("m1", "1", ts), record("m1", "1", ts), record("m1", "1", ts),
		record("m1", "2", ts), record("m1", "2", ts),
	}
	if err := repo.InsertPage(ctx, domain.GameModeMwMp, page); err != nil {
		t.Fatal(err)
	}

	n, err := repo.DeleteDoubles(ctx, "matches_mw_mp", "1")
	if err != nil || n != 2 {
		t.Fatalf("player sweep deleted = %d, %v", n, err)
	}
	n, _ = repo.DeleteDoubles(ctx, "matches_mw_mp", "")
	if n != 1 {
		t.Errorf("full sweep deleted = %d", n)
	}
	if total, _ := repo.CountByMatch(ctx, "matches_mw_mp", "m1"); total != 2 {
		t.Errorf("rows left = %d", total)
	}
}

func TestPlayerRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewPlayerRepository(db, zerolog.Nop())
	ctx := context.Background()

	p := &domain.Player{Uno: "42", Username: []string{"alpha"}, Group: "team"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, &domain.Player{Uno: "42"}); err == nil {
		t.Error("duplicate uno accepted")
	}

	got, err := repo.Get(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if got.Username[0] != "alpha" || got.Group != "team" || got.Games[domain.GameModeMwMp] == nil {
		t.Errorf("player = %+v", got)
	}

	games := domain.NewGames()
	games.Get(domain.GameModeMwMp).Status = int(domain.GameEnabled)
	err = repo.Update(ctx, "42", map[string]any{"games": games, "battle": "Alpha#1"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ = repo.Get(ctx, "42")
	if got.Games.Get(domain.GameModeMwMp).Status != int(domain.GameEnabled) || got.Battle != "Alpha#1" {
		t.Errorf("updated player = %+v", got)
	}

	if err := repo.Update(ctx, "42", map[string]any{"uno": "43"}); err == nil || !strings.Contains(err.Error(), "not updatable") {
		t.Errorf("update of uno err = %v", err)
	}
	if err := repo.Update(ctx, "404", map[string]any{"acti": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update of missing player err = %v", err)
	}

	members, _ := repo.ListByGroup(ctx, "team")
	if len(members) != 1 {
		t.Errorf("group members = %d", len(members))
	}

	if err := repo.Delete(ctx, "42"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, "42"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if err := repo.Delete(ctx, "42"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestLabelIntern(t *testing.T) {
	db := openTestDB(t)
	repo := NewLabelRepository(db, zerolog.Nop())
	ctx := context.Background()

	label := "Kilo 141"
	first, err := repo.Intern(ctx, domain.LabelWeapons, "iw8_ar_kilo433", &label, domain.GameModeMwMp)
	if err != nil {
		t.Fatal(err)
	}
	again, err := repo.Intern(ctx, domain.LabelWeapons, "iw8_ar_kilo433", nil, domain.GameModeMwWz)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != again.ID || again.Label == nil || *again.Label != label {
		t.Errorf("intern = %+v then %+v", first, again)
	}

	long := strings.Repeat("x", 150)
	e, _ := repo.Intern(ctx, domain.LabelPerks, "specialty_long", &long, domain.GameModeMwMp)
	if e.Label == nil || len(*e.Label) != 99 {
		t.Errorf("long label not truncated: %v", e.Label)
	}

	if err := repo.Delete(ctx, domain.LabelWeapons, "iw8_ar_kilo433"); err != nil {
		t.Fatal(err)
	}
	fresh, _ := repo.Intern(ctx, domain.LabelWeapons, "iw8_ar_kilo433", nil, domain.GameModeMwMp)
	if fresh.ID == first.ID {
		t.Error("deleted id was reused")
	}

	if _, err := repo.All(ctx, "bogus"); err == nil {
		t.Error("unknown category accepted")
	}
	counts, _ := repo.Counts(ctx)
	if counts[domain.LabelWeapons] != 1 || counts[domain.LabelPerks] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestLogRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewLogRepository(db, zerolog.Nop())
	ctx := context.Background()

	if err := repo.Add(ctx, domain.LogTrackerPlayer, "42", "first", nil); err != nil {
		t.Fatal(err)
	}
	if err := repo.Add(ctx, domain.LogTrackerPlayer, "42", "second", map[string]any{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Add(ctx, domain.LogTrackerError, "42", "boom", nil); err != nil {
		t.Fatal(err)
	}

	logs, err := repo.List(ctx, domain.LogTrackerPlayer, "42", 10)
	if err != nil || len(logs) != 2 || logs[0].Message != "second" {
		t.Fatalf("logs = %+v, %v", logs, err)
	}
	if logs[0].Data["n"] != float64(1) {
		t.Errorf("data = %v", logs[0].Data)
	}

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	task := domain.Task{
		ID: "abc", Name: "42 mw_mp matches", Uno: "42", GameMode: domain.GameModeMwMp,
		DataType: domain.DataTypeMatches, Status: domain.TaskCompleted, Time: started,
		TimeStarted: &started, Data: map[string]any{"records": 3},
	}
	if err := repo.ArchiveTask(ctx, task, "drain"); err != nil {
		t.Fatal(err)
	}
	archived, err := repo.TaskLogs(ctx, task.Name, 5)
	if err != nil || len(archived) != 1 {
		t.Fatalf("archived = %+v, %v", archived, err)
	}
	if archived[0].Source != "drain" || archived[0].Task.Status != domain.TaskCompleted || archived[0].Task.TimeEnd != nil {
		t.Errorf("archived task = %+v", archived[0])
	}
}
