package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func writeFile(t *testing.T, path string, body []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeFullmatchSnapshot(t *testing.T, h *harness, mode domain.GameMode, matchID string, start int64, unos ...string) {
	t.Helper()
	full := ProviderFullmatch{}
	for _, uno := range unos {
		full.AllPlayers = append(full.AllPlayers, entries(t, providerMatch(matchID, uno, start))...)
	}
	body, err := json.Marshal(map[string]any{"status": "success", "data": full})
	if err != nil {
		t.Fatal(err)
	}
	r := api.Request{Target: matchID, GameMode: mode, DataType: domain.DataTypeFullmatches}
	writeFile(t, api.SnapshotPath(h.cfg.DataDir, r), body)
}

func TestLoadSnapshotsWritesMain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := time.Date(2021, 4, 2, 0, 0, 0, 0, time.UTC)
	part := repository.Partition{GameMode: domain.GameModeMwWz, Year: 2021}

	if err := h.matches.InsertBasic(ctx, part, []domain.MatchRecord{{MatchID: "100", Uno: "1", Time: start}}); err != nil {
		t.Fatal(err)
	}
	writeFullmatchSnapshot(t, h, domain.GameModeMwWz, "100", start.Unix(), "1", "2", "3")
	writeFullmatchSnapshot(t, h, domain.GameModeMwWz, "200", start.Unix(), "4")
	broken := api.SnapshotPath(h.cfg.DataDir, api.Request{Target: "300", GameMode: domain.GameModeMwWz, DataType: domain.DataTypeFullmatches})
	writeFile(t, broken, []byte("not json"))

	summary, err := h.loader.LoadSnapshots(ctx, domain.GameModeMwWz)
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	want := LoadSummary{Files: 3, Matches: 2, Rows: 4, Skipped: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if got := h.countRows(t, part.Table(repository.TierMain), "match_id = ?", "100"); got != 3 {
		t.Errorf("main rows of 100 = %d, want 3", got)
	}
	if got := h.countRows(t, part.Table(repository.TierBasic), ""); got != 0 {
		t.Errorf("basic rows = %d, want 0 after promotion", got)
	}

	summary, err = h.loader.LoadSnapshots(ctx, domain.GameModeMwWz)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Matches != 0 || summary.Skipped != 3 {
		t.Errorf("second load = %+v, want everything skipped", summary)
	}
	if got := h.countRows(t, part.Table(repository.TierMain), ""); got != 4 {
		t.Errorf("main rows after reload = %d, want 4", got)
	}
}

func TestLoadSnapshotsWithoutDirectory(t *testing.T) {
	h := newHarness(t)
	summary, err := h.loader.LoadSnapshots(context.Background(), domain.GameModeMwMp)
	if err != nil {
		t.Fatal(err)
	}
	if summary != (LoadSummary{}) {
		t.Errorf("summary = %+v, want empty", summary)
	}
}

func TestLoadBasicSkipsKnownMatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)
	part := repository.Partition{GameMode: domain.GameModeMwWz, Year: 2022}

	if _, err := h.matches.Promote(ctx, part, "known", []domain.MatchRecord{{MatchID: "known", Uno: "9", Time: start}}); err != nil {
		t.Fatal(err)
	}

	csv := "id,match_id,uno,username,time,kills,kd_ratio,unused\n" +
		"1,known,9,nine,1656633600,3,1.5,x\n" +
		"2,b1,10,ten,1656633600,4,2.25,x\n" +
		"3,b1,11,,1656633600,5,,x\n" +
		"4,b2,12,twelve,1656633600,lots,1,x\n"
	writeFile(t, api.BasicPath(h.cfg.DataDir, domain.GameModeMwWz, 2022), []byte(csv))

	summary, err := h.loader.LoadBasic(ctx, domain.GameModeMwWz, 2022)
	if err != nil {
		t.Fatalf("LoadBasic: %v", err)
	}
	want := LoadSummary{Matches: 1, Rows: 2, Skipped: 2}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}
	if got := h.countRows(t, part.Table(repository.TierBasic), "match_id = ?", "b1"); got != 2 {
		t.Errorf("basic rows of b1 = %d, want 2", got)
	}
	if got := h.countRows(t, part.Table(repository.TierBasic), "match_id = ?", "known"); got != 0 {
		t.Errorf("known match loaded into basic")
	}

	logs, err := h.logs.List(ctx, domain.LogTrackerError, part.String(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Errorf("error logs = %+v, want the malformed kills row", logs)
	}
}

func TestLoadBasicMissingFile(t *testing.T) {
	h := newHarness(t)
	if _, err := h.loader.LoadBasic(context.Background(), domain.GameModeMwMp, 0); err == nil {
		t.Fatal("expected an error for a missing export")
	}
}
