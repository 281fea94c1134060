package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/config"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/store"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Provider is the transport behind GameDataFetcher; *api.Client in
// production.
type Provider interface {
	Fetch(ctx context.Context, r api.Request) (*api.Response, error)
	HasToken() bool
	SaveSnapshot(r api.Request, body []byte) (bool, error)
	SaveError(message string, body []byte) (bool, error)
}

type GameDataFetcher struct {
	provider  Provider
	store     *store.Store
	journal   *Journal
	backoff   *Backoff
	storeData bool
	logger    zerolog.Logger
}

func NewGameDataFetcher(provider Provider, st *store.Store, journal *Journal, backoff *Backoff, cfg *config.Config, logger zerolog.Logger) *GameDataFetcher {
	return &GameDataFetcher{
		provider:  provider,
		store:     st,
		journal:   journal,
		backoff:   backoff,
		storeData: cfg.StoreData,
		logger:    logger,
	}
}

func (f *GameDataFetcher) HasToken() bool {
	return f.provider.HasToken()
}

// Fetch returns the "data" member of a successful provider answer. A nil
// payload with a nil error means no data: the tracker is not active or the
// provider failed, in which case the failure was classified and the
// matching break already taken. Errors are reserved for the store and
// context.
func (f *GameDataFetcher) Fetch(ctx context.Context, r api.Request, ignoreStatus bool) (json.RawMessage, error) {
	if !ignoreStatus {
		status, err := f.store.Status(ctx)
		if err != nil {
			return nil, err
		}
		if status != domain.TrackerActive {
			return nil, nil
		}
	}

	var usernames []string
	known, err := f.store.HGetJSON(ctx, store.PlayerKey(r.Target), "username", &usernames)
	if err != nil {
		f.logger.Warn().Err(err).Str("target", r.Target).Msg("failed to read cached username")
	}
	username, _, _ := strings.Cut(r.Target, "#")
	if known && len(usernames) > 0 {
		username = usernames[0]
	}
	info := fmt.Sprintf("%s %s %s %s", username, r.GameMode, r.DataType, r.Platform)

	resp, err := f.provider.Fetch(ctx, r)
	if resp == nil {
		resp = &api.Response{}
	}

	message := fmt.Sprintf("[%s]", resp.Elapsed.Round(time.Millisecond))
	if r.StartTime != 0 {
		message += fmt.Sprintf(" [%s]", time.Unix(r.StartTime, 0).UTC().Format(time.DateTime))
	}
	f.journal.Cache(ctx, username, r.GameMode, message)

	if err == nil {
		if resp.Source == api.SourceLocal {
			message += " [local]"
		} else if f.storeData {
			if _, err := f.provider.SaveSnapshot(r, resp.Body); err != nil {
				f.logger.Warn().Err(err).Str("request", r.String()).Msg("failed to save snapshot")
			}
		}
		if known {
			f.journal.Log(ctx, domain.LogTrackerPlayer, r.Target, info+" "+message, nil)
		} else {
			f.journal.Log(ctx, domain.LogTracker, info, message, nil)
		}
		return resp.Payload, nil
	}

	var perr *api.ProviderError
	if !errors.As(err, &perr) {
		return nil, fmt.Errorf("failed to fetch %s: %w", r, err)
	}

	if _, err := f.provider.SaveError(perr.Message, perr.Body); err != nil {
		f.logger.Warn().Err(err).Str("message", perr.Message).Msg("failed to save error payload")
	}
	f.logger.Debug().Str("request", r.String()).Str("error", perr.Message).Msg("provider returned no data")

	if err := f.backoff.MakeBreak(ctx, r.Target+" "+username, r.GameMode, perr.Message, BreakMinutes(perr.Message)); err != nil {
		return nil, err
	}
	return nil, nil
}
