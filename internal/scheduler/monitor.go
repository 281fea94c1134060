package scheduler

import (
	"cod-tracker/internal/config"
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/store"
	"context"
	"errors"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Monitor is the background side of the queue: it recovers at boot, drains
// the queue on a tick and schedules the auto-update sweep.
type Monitor struct {
	scheduler *Scheduler
	store     *store.Store
	cfg       *config.Config
	clock     clockwork.Clock
	cron      gocron.Scheduler
	cancel    context.CancelFunc
	logger    zerolog.Logger
}

func NewMonitor(s *Scheduler, st *store.Store, cfg *config.Config, clock clockwork.Clock, logger zerolog.Logger) (*Monitor, error) {
	cron, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create cron scheduler: %w", err)
	}
	return &Monitor{
		scheduler: s,
		store:     st,
		cfg:       cfg,
		clock:     clock,
		cron:      cron,
		logger:    logger,
	}, nil
}

func (m *Monitor) Start(ctx context.Context) error {
	if err := m.scheduler.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover task queue: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	_, err := m.cron.NewJob(
		gocron.DurationJob(m.cfg.TaskQueuesInterval),
		gocron.NewTask(func() { m.Drain(runCtx) }),
		gocron.WithName("task_queues"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule drain: %w", err)
	}

	if m.cfg.AutoUpdateInterval > 0 {
		opts := []gocron.JobOption{
			gocron.WithName("auto_update"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		}
		if m.autoUpdateDue(ctx) {
			opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}
		_, err = m.cron.NewJob(
			gocron.DurationJob(m.cfg.AutoUpdateInterval),
			gocron.NewTask(func() {
				if err := m.AutoUpdate(runCtx); err != nil {
					m.logger.Error().Err(err).Msg("auto update failed")
				}
			}),
			opts...,
		)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to schedule auto update: %w", err)
		}
	}

	m.cron.Start()
	m.logger.Info().
		Dur("task_queues_interval", m.cfg.TaskQueuesInterval).
		Dur("auto_update_interval", m.cfg.AutoUpdateInterval).
		Msg("monitor started")
	return nil
}

func (m *Monitor) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if err := m.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop cron scheduler: %w", err)
	}
	m.logger.Info().Msg("monitor stopped")
	return nil
}

// Drain runs queued tasks one after another until the head is not pending.
func (m *Monitor) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		ran, err := m.scheduler.DrainOne(ctx)
		if err != nil {
			m.logger.Error().Err(err).Msg("failed to drain task queue")
			return
		}
		if !ran {
			return
		}
	}
}

// AutoUpdate queues the sweep over every player and stamps its time.
func (m *Monitor) AutoUpdate(ctx context.Context) error {
	status, err := m.scheduler.Enqueue(ctx, string(domain.GameModeAll), domain.GameModeAll, domain.DataTypeAll)
	if err != nil {
		return err
	}
	m.logger.Info().Str("status", string(status)).Msg("auto update queued")
	return m.store.SetTime(ctx, constants.KeyAutoUpdateAt, m.clock.Now())
}

func (m *Monitor) autoUpdateDue(ctx context.Context) bool {
	last, err := m.store.GetTime(ctx, constants.KeyAutoUpdateAt)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to read last auto update")
		return true
	}
	return m.clock.Since(last) >= m.cfg.AutoUpdateInterval
}
