package service

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/metrics"
	"cod-tracker/internal/store"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// BreakIndefinite stops fetching until the status is reset by hand.
const BreakIndefinite = -1

// BreakMinutes maps a normalized provider message to a pause length.
func BreakMinutes(message string) int {
	switch message {
	case api.MsgNotAuthenticated:
		return BreakIndefinite
	case api.MsgRateLimit:
		return constants.RateLimitBreakMinutes
	case api.MsgNotFound:
		return constants.NotFoundBreakMinutes
	}
	return 0
}

// Backoff pauses all fetching through the shared tracker status.
type Backoff struct {
	store   *store.Store
	journal *Journal
	clock   clockwork.Clock
	logger  zerolog.Logger
}

func NewBackoff(st *store.Store, journal *Journal, clock clockwork.Clock, logger zerolog.Logger) *Backoff {
	return &Backoff{store: st, journal: journal, clock: clock, logger: logger}
}

// MakeBreak logs the cause and, for a non-zero duration, flips the tracker
// to break (or inactive for BreakIndefinite). A timed break only starts from
// active; a running head task is parked as pause for the length of the sleep
// and resumed afterwards.
func (b *Backoff) MakeBreak(ctx context.Context, target string, mode domain.GameMode, source string, minutes int) error {
	var message, reason string
	if minutes == BreakIndefinite {
		message = fmt.Sprintf("fetch data disabled source=%s", source)
		reason = "indefinite"
	} else {
		message = fmt.Sprintf("break minutes=%d source=%s", minutes, source)
		reason = strconv.Itoa(minutes) + "m"
	}

	b.journal.Log(ctx, domain.LogTracker, target, fmt.Sprintf("%s %s", mode, message), nil)
	if minutes == 0 {
		return nil
	}

	metrics.BackoffTotal.WithLabelValues(reason).Inc()
	b.journal.Cache(ctx, target, mode, message)
	b.logger.Warn().Str("target", target).Str("game_mode", string(mode)).Int("minutes", minutes).Str("source", source).Msg("making break")

	if minutes == BreakIndefinite {
		if err := b.store.SetStatus(ctx, domain.TrackerInactive); err != nil {
			return err
		}
		metrics.ObserveStatus(domain.TrackerInactive)
		return nil
	}

	started, err := b.store.CompareAndSwapStatus(ctx, domain.TrackerActive, domain.TrackerBreak)
	if err != nil {
		return err
	}
	if !started {
		b.logger.Info().Str("target", target).Msg("tracker not active, break skipped")
		return nil
	}
	metrics.ObserveStatus(domain.TrackerBreak)

	head, err := b.store.HeadTask(ctx)
	if err != nil {
		return err
	}
	paused := head != nil && head.Status == domain.TaskRunning
	if paused {
		head.Status = domain.TaskPause
		if err := b.store.SetHeadTask(ctx, head); err != nil {
			return err
		}
	}

	var sleepErr error
	select {
	case <-b.clock.After(time.Duration(minutes) * time.Minute):
	case <-ctx.Done():
		sleepErr = ctx.Err()
	}

	// restore even when the sleep was cut short
	restoreCtx := context.WithoutCancel(ctx)

	swapped, err := b.store.CompareAndSwapStatus(restoreCtx, domain.TrackerBreak, domain.TrackerActive)
	if err != nil {
		return err
	}
	if swapped {
		metrics.ObserveStatus(domain.TrackerActive)
	} else {
		b.logger.Info().Msg("tracker status changed during break, leaving it")
	}

	if paused {
		current, err := b.store.HeadTask(restoreCtx)
		if err != nil {
			return err
		}
		if current != nil && current.ID == head.ID && current.Status == domain.TaskPause {
			current.Status = domain.TaskRunning
			if err := b.store.SetHeadTask(restoreCtx, current); err != nil {
				return err
			}
		}
	}

	return sleepErr
}
