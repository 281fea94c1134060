package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/codec"
	"cod-tracker/internal/config"
	"cod-tracker/internal/database"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"cod-tracker/internal/store"
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeProvider struct {
	mu      sync.Mutex
	token   bool
	calls   []api.Request
	respond func(r api.Request) (*api.Response, error)
}

func (p *fakeProvider) Fetch(_ context.Context, r api.Request) (*api.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, r)
	respond := p.respond
	p.mu.Unlock()
	if respond == nil {
		return nil, &api.ProviderError{Message: api.MsgGameDataNotFound}
	}
	return respond(r)
}

func (p *fakeProvider) HasToken() bool { return p.token }

func (p *fakeProvider) SaveSnapshot(api.Request, []byte) (bool, error) { return false, nil }

func (p *fakeProvider) SaveError(string, []byte) (bool, error) { return false, nil }

func (p *fakeProvider) callsOf(dataType domain.DataType) []api.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []api.Request
	for _, r := range p.calls {
		if r.DataType == dataType {
			out = append(out, r)
		}
	}
	return out
}

func payload(t *testing.T, v any) *api.Response {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &api.Response{Source: api.SourceLocal, Body: raw, Payload: raw}
}

// entries marshals provider entries into the raw form of a page.
func entries(t *testing.T, ms ...ProviderMatch) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(ms))
	for _, m := range ms {
		raw, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal entry: %v", err)
		}
		out = append(out, raw)
	}
	return out
}

func notFound(api.Request) (*api.Response, error) {
	return nil, &api.ProviderError{Message: api.MsgGameDataNotFound}
}

type harness struct {
	cfg      *config.Config
	db       *sql.DB
	redis    *miniredis.Miniredis
	store    *store.Store
	clock    *clockwork.FakeClock
	provider *fakeProvider

	players *repository.PlayerRepository
	matches *repository.MatchRepository
	logs    *repository.LogRepository
	codec   *codec.Codec

	journal   *Journal
	backoff   *Backoff
	fetcher   *GameDataFetcher
	formatter *MatchFormatter
	games     *GamesStatus
	promoter  *Promoter
	stats     *StatsAggregator
	engine    *MatchIngestionEngine
	loader    *FullmatchLoader
}

func testConfig() *config.Config {
	return &config.Config{
		MatchesLimit:     20,
		ParsPreLimit:     300,
		ParsProgressStep: 500,
		PromoteFailLimit: 3,
		PromoteLogStep:   20,
		SoftBreakMinutes: 2,
		LogsCacheLimit:   100,
		MatchesInterval:  30 * time.Minute,
		StatsInterval:    3 * 7 * 24 * time.Hour,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.Open(filepath.Join(t.TempDir(), "tracker.db"), logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := testConfig()
	cfg.DataDir = t.TempDir()

	h := &harness{
		cfg:      cfg,
		db:       db,
		redis:    mr,
		store:    store.NewWithClient(rdb, logger),
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		provider: &fakeProvider{},
	}

	h.players = repository.NewPlayerRepository(db, logger)
	h.matches = repository.NewMatchRepository(db, repository.DefaultPartitions(), logger)
	h.logs = repository.NewLogRepository(db, logger)
	h.codec = codec.New(repository.NewLabelRepository(db, logger), logger)
	c := h.codec

	h.journal = NewJournal(h.logs, h.store, h.cfg, logger)
	h.backoff = NewBackoff(h.store, h.journal, h.clock, logger)
	h.fetcher = NewGameDataFetcher(h.provider, h.store, h.journal, h.backoff, h.cfg, logger)
	h.formatter = NewMatchFormatter(c, logger)
	h.games = NewGamesStatus(h.players, h.store, h.journal, h.cfg, h.clock, logger)
	h.promoter = NewPromoter(h.fetcher, h.formatter, h.matches, h.games, h.store, h.journal, h.cfg, logger)
	h.stats = NewStatsAggregator(h.matches, h.players, h.games, c, h.cfg, h.clock, logger)
	h.engine = NewMatchIngestionEngine(h.players, h.matches, h.fetcher, h.formatter, h.promoter, h.stats,
		h.games, h.store, h.journal, h.backoff, h.cfg, logger)
	h.loader = NewFullmatchLoader(api.NewClient(h.cfg, logger), h.promoter, h.matches, h.journal, logger)
	return h
}

// addPlayer stores a player with the given modes enabled and refreshes
// the target cache.
func (h *harness) addPlayer(t *testing.T, uno, username string, parsed domain.ParseStatus, modes ...domain.GameMode) {
	t.Helper()
	games := domain.NewGames()
	games.Get(domain.GameModeAll).Status = int(parsed)
	for _, mode := range modes {
		games.Get(mode).Status = int(domain.GameEnabled)
	}
	p := &domain.Player{Uno: uno, Username: []string{username}, Games: games}
	if err := h.players.Create(context.Background(), p); err != nil {
		t.Fatalf("create player: %v", err)
	}
	if err := h.games.RefreshCache(context.Background()); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}
}

func (h *harness) countRows(t *testing.T, table, where string, args ...any) int {
	t.Helper()
	var n int
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := h.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// providerMatch builds a provider entry of one player in one match.
func providerMatch(matchID, uno string, start int64) ProviderMatch {
	return ProviderMatch{
		UtcStartSeconds: start,
		MatchID:         matchID,
		Map:             "mp_runner",
		Mode:            "br_brquads",
		Result:          "win",
		Duration:        1_200_000,
		Player:          ProviderPlayer{Uno: uno, Username: "player" + uno, Team: "team_one"},
		PlayerStats: map[string]any{
			"kills":    float64(5),
			"deaths":   float64(2),
			"kdRatio":  2.5,
			"xpAtEnd":  float64(1200),
			"accuracy": 0.25,
		},
	}
}
