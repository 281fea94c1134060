package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/config"
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

// PromoteResult is the outcome of promoting one match id.
type PromoteResult int

const (
	// PromoteExists means the match was already in MAIN; nothing fetched.
	PromoteExists PromoteResult = iota
	// PromoteNoData means the provider returned nothing. Non-fatal.
	PromoteNoData
	// PromoteNoPlayers means the provider answered without usable players.
	PromoteNoPlayers
	PromoteWritten
)

func (r PromoteResult) String() string {
	switch r {
	case PromoteExists:
		return "exists"
	case PromoteNoData:
		return "no_data"
	case PromoteNoPlayers:
		return "no_players"
	default:
		return "written"
	}
}

// BatchSummary counts the outcomes of PromoteBatch.
type BatchSummary struct {
	Total   int
	Written int
	Skipped int
	Failed  int
	Stopped bool
}

// Promoter moves match ids from the rolling tables into fullmatches.
type Promoter struct {
	fetcher   *GameDataFetcher
	formatter *MatchFormatter
	matches   *repository.MatchRepository
	games     *GamesStatus
	store     *store.Store
	journal   *Journal
	cfg       *config.Config
	logger    zerolog.Logger
}

func NewPromoter(fetcher *GameDataFetcher, formatter *MatchFormatter, matches *repository.MatchRepository, games *GamesStatus, st *store.Store, journal *Journal, cfg *config.Config, logger zerolog.Logger) *Promoter {
	return &Promoter{
		fetcher:   fetcher,
		formatter: formatter,
		matches:   matches,
		games:     games,
		store:     st,
		journal:   journal,
		cfg:       cfg,
		logger:    logger,
	}
}

// PromoteMatch fetches every participant of matchID and writes them into
// the MAIN tier of the (mode, year) partition, dropping the match from the
// BASIC tier of the same partition.
func (p *Promoter) PromoteMatch(ctx context.Context, matchID string, mode domain.GameMode, year int) (PromoteResult, error) {
	part, err := p.matches.Partitions().Resolve(mode, year)
	if err != nil {
		return PromoteNoData, err
	}

	exists, err := p.matches.InMain(ctx, part, matchID)
	if err != nil {
		return PromoteNoData, err
	}
	if exists {
		return PromoteExists, nil
	}

	payload, err := p.fetcher.Fetch(ctx, api.Request{
		Target:   matchID,
		GameMode: mode,
		DataType: domain.DataTypeFullmatches,
		Platform: domain.PlatformBattle,
	}, false)
	if err != nil {
		return PromoteNoData, err
	}
	if payload == nil {
		p.record(mode, PromoteNoData)
		return PromoteNoData, nil
	}

	var full ProviderFullmatch
	if err := json.Unmarshal(payload, &full); err != nil {
		p.journal.Log(ctx, domain.LogTrackerError, matchID, fmt.Sprintf("%s fullmatch decode failed: %v", mode, err), nil)
		p.record(mode, PromoteNoPlayers)
		return PromoteNoPlayers, nil
	}
	result, _, err := p.writePlayers(ctx, part, matchID, p.decodePlayers(ctx, matchID, mode, full))
	return result, err
}

func (p *Promoter) decodePlayers(ctx context.Context, matchID string, mode domain.GameMode, full ProviderFullmatch) []ProviderMatch {
	return decodeEntries(full.AllPlayers, func(i int, err error) {
		p.journal.Log(ctx, domain.LogTrackerError, matchID, fmt.Sprintf("%s fullmatch player %d skipped: %v", mode, i, err), nil)
	})
}

// writePlayers formats the participants of matchID into the MAIN tier of
// part and reports how many rows were written.
func (p *Promoter) writePlayers(ctx context.Context, part repository.Partition, matchID string, players []ProviderMatch) (PromoteResult, int, error) {
	mode := part.GameMode
	records := make([]domain.MatchRecord, 0, len(players))
	for _, pm := range players {
		record, err := p.formatter.Format(ctx, pm, mode)
		if err != nil {
			return PromoteNoData, 0, err
		}
		if record.Uno == "" {
			p.journal.Log(ctx, domain.LogTrackerError, matchID,
				fmt.Sprintf("%s fullmatch player without uno skipped", mode),
				map[string]any{"username": pm.Player.Username})
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		p.record(mode, PromoteNoPlayers)
		return PromoteNoPlayers, 0, nil
	}

	deleted, err := p.matches.Promote(ctx, part, matchID, records)
	if err != nil {
		return PromoteNoData, 0, err
	}
	if deleted > 0 {
		p.journal.Log(ctx, domain.LogTracker, matchID,
			fmt.Sprintf("[%s] %s %s deleted", matchID, part, repository.TierBasic),
			map[string]any{"rows": deleted})
	}

	p.record(mode, PromoteWritten)
	return PromoteWritten, len(records), nil
}

func (p *Promoter) record(mode domain.GameMode, result PromoteResult) {
	metrics.FullmatchesPromoted.WithLabelValues(string(mode), result.String()).Inc()
}

// PromoteBatch promotes refs in order. It stops when the tracker leaves
// active or after PromoteFailLimit consecutive NoPlayers results.
func (p *Promoter) PromoteBatch(ctx context.Context, target string, mode domain.GameMode, refs []repository.MatchRef) (BatchSummary, error) {
	summary := BatchSummary{Total: len(refs)}
	failCount := 0

	for i, ref := range refs {
		status, err := p.store.Status(ctx)
		if err != nil {
			return summary, err
		}
		if status != domain.TrackerActive {
			summary.Stopped = true
			p.journal.Cache(ctx, target, mode, fmt.Sprintf("fullmatches pars stopped, status %s", status))
			break
		}

		result, err := p.PromoteMatch(ctx, ref.MatchID, mode, ref.Time.Year())
		if errors.Is(err, repository.ErrUnknownPartition) {
			p.journal.Log(ctx, domain.LogTrackerError, ref.MatchID, err.Error(), nil)
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, err
		}

		switch result {
		case PromoteWritten:
			summary.Written++
			failCount = 0
		case PromoteNoPlayers:
			summary.Failed++
			failCount++
		default:
			summary.Skipped++
		}

		if failCount >= p.cfg.PromoteFailLimit {
			summary.Stopped = true
			p.journal.Cache(ctx, target, mode, fmt.Sprintf("fullmatches pars stopped, %d failures in a row", failCount))
			break
		}

		if step := p.cfg.PromoteLogStep; step > 0 && (i+1)%step == 0 {
			p.journal.Cache(ctx, target, mode, fmt.Sprintf("fullmatches %d/%d", i+1, len(refs)))
		}
	}

	p.logger.Info().
		Str("target", target).
		Str("game_mode", string(mode)).
		Int("total", summary.Total).
		Int("written", summary.Written).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Bool("stopped", summary.Stopped).
		Msg("fullmatches batch finished")
	return summary, nil
}

// pendingRefs drops the refs already present in a MAIN partition.
func (p *Promoter) pendingRefs(ctx context.Context, mode domain.GameMode, unos ...string) ([]repository.MatchRef, int, error) {
	refs, err := p.matches.PlayerMatchRefs(ctx, mode, unos...)
	if err != nil {
		return nil, 0, err
	}
	pending := refs[:0:0]
	for _, ref := range refs {
		found, err := p.matches.InAnyMain(ctx, mode, ref.MatchID)
		if err != nil {
			return nil, 0, err
		}
		if !found {
			pending = append(pending, ref)
		}
	}
	return pending, len(refs), nil
}

// PromotePlayer promotes every pending match of uno in the fullmatches
// modes covered by mode. A batch that ran to the end marks the player as
// fullmatches parsed.
func (p *Promoter) PromotePlayer(ctx context.Context, uno string, mode domain.GameMode) (BatchSummary, error) {
	var total BatchSummary
	for _, m := range mode.Expand() {
		if !m.IsMW() {
			continue
		}
		refs, found, err := p.pendingRefs(ctx, m, uno)
		if err != nil {
			return total, err
		}
		p.journal.Cache(ctx, uno, m, fmt.Sprintf("started fullmatches pars, %d matches found from %d", len(refs), found))

		summary, err := p.PromoteBatch(ctx, uno, m, refs)
		total.add(summary)
		if err != nil {
			return total, err
		}
		if summary.Stopped {
			return total, nil
		}
	}

	games, err := p.games.Games(ctx, uno)
	if err != nil {
		return total, err
	}
	if games.ParseStatus() < domain.ParsedFullmatches {
		games.Get(domain.GameModeAll).Status = int(domain.ParsedFullmatches)
		if err := p.games.SetGames(ctx, uno, games); err != nil {
			return total, err
		}
	}
	return total, nil
}

// PromoteGroup promotes the pending matches of every member of a group.
func (p *Promoter) PromoteGroup(ctx context.Context, group string, mode domain.GameMode) (BatchSummary, error) {
	var total BatchSummary
	members, err := p.games.Members(ctx, group)
	if err != nil {
		return total, err
	}
	if len(members) == 0 {
		return total, fmt.Errorf("%w: %s", ErrNoPlayers, group)
	}

	for _, m := range mode.Expand() {
		if !m.IsMW() {
			continue
		}
		refs, found, err := p.pendingRefs(ctx, m, members...)
		if err != nil {
			return total, err
		}
		p.journal.Cache(ctx, group, m, fmt.Sprintf("started actualize fullmatches, %d matches found from %d", len(refs), found))

		summary, err := p.PromoteBatch(ctx, group, m, refs)
		total.add(summary)
		if err != nil || summary.Stopped {
			return total, err
		}
	}
	return total, nil
}

func (s *BatchSummary) add(o BatchSummary) {
	s.Total += o.Total
	s.Written += o.Written
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Stopped = s.Stopped || o.Stopped
}
