// Package scheduler owns the shared task queue: a FIFO list in the shared
// store whose head is the only task allowed to run. The HTTP process
// enqueues, the monitor process drains.
package scheduler

import (
	"cod-tracker/internal/domain"
	"cod-tracker/internal/metrics"
	"cod-tracker/internal/service"
	"cod-tracker/internal/store"
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// archive sources
const (
	SourceDrain   = "drain"
	SourceDelete  = "delete"
	SourceClear   = "clear"
	SourceRecover = "recover"
)

var (
	ErrTaskActive = errors.New("task is running")
	ErrNoHandler  = errors.New("no handler for task")
)

// Handler executes one task. The returned error marks the task as failed.
type Handler func(ctx context.Context, task *domain.Task) error

type route struct {
	target   domain.TargetType
	dataType domain.DataType
}

type Scheduler struct {
	store    *store.Store
	games    *service.GamesStatus
	journal  *service.Journal
	handlers map[route]Handler
	clock    clockwork.Clock
	logger   zerolog.Logger
}

func NewScheduler(
	st *store.Store,
	games *service.GamesStatus,
	journal *service.Journal,
	engine *service.MatchIngestionEngine,
	promoter *service.Promoter,
	stats *service.StatsAggregator,
	clock clockwork.Clock,
	logger zerolog.Logger,
) *Scheduler {
	s := &Scheduler{
		store:    st,
		games:    games,
		journal:  journal,
		handlers: make(map[route]Handler),
		clock:    clock,
		logger:   logger,
	}
	s.registerDefaults(engine, promoter, stats)
	return s
}

// Handle sets the handler of (target type, data type), replacing any
// previous one.
func (s *Scheduler) Handle(target domain.TargetType, dataType domain.DataType, h Handler) {
	s.handlers[route{target: target, dataType: dataType}] = h
}

func (s *Scheduler) Queue(ctx context.Context) ([]domain.Task, error) {
	return s.store.Tasks(ctx)
}

func queueStatus(tasks []domain.Task, name string) domain.EnqueueStatus {
	if len(tasks) == 0 {
		return domain.EnqueueStarted
	}
	if tasks[0].Name == name && tasks[0].Active() {
		return domain.EnqueueAlreadyRunning
	}
	for _, t := range tasks {
		if t.Name == name {
			return domain.EnqueueInQueues
		}
	}
	return domain.EnqueueAdded
}

// Enqueue pushes a pending task for (target, mode, dataType) unless a task
// of the same name is already queued.
func (s *Scheduler) Enqueue(ctx context.Context, target string, mode domain.GameMode, dataType domain.DataType) (domain.EnqueueStatus, error) {
	name := domain.TaskName(target, mode, dataType)
	tasks, err := s.store.Tasks(ctx)
	if err != nil {
		return "", err
	}

	status := queueStatus(tasks, name)
	metrics.TasksEnqueued.WithLabelValues(string(status)).Inc()
	if !status.Pushed() {
		s.logger.Debug().Str("task", name).Str("status", string(status)).Msg("task not queued")
		return status, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate task id: %w", err)
	}
	task := &domain.Task{
		ID:       id,
		Name:     name,
		Uno:      target,
		GameMode: mode,
		DataType: dataType,
		Status:   domain.TaskPending,
		Data:     s.metadata(ctx, target, mode),
		Time:     s.clock.Now().UTC(),
	}
	if err := s.store.PushTask(ctx, task); err != nil {
		return "", err
	}

	s.logger.Info().Str("task", name).Str("id", id).Str("status", string(status)).Msg("task queued")
	return status, nil
}

// metadata records who asked for a task and the cached state of its target.
func (s *Scheduler) metadata(ctx context.Context, target string, mode domain.GameMode) map[string]any {
	data := map[string]any{"target": target}
	if pc, _, line, ok := runtime.Caller(2); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			data["caller"] = fmt.Sprintf("%s:%d", fn.Name(), line)
		}
	}

	var games domain.Games
	if domain.TargetTypeOf(target) == domain.TargetPlayer {
		p, err := s.games.CachedPlayer(ctx, target)
		if err != nil {
			return data
		}
		data["username"] = p.DisplayName()
		data["group"] = p.Group
		games = p.Games
	} else {
		g, err := s.games.CachedGroup(ctx, target)
		if err != nil {
			return data
		}
		data["players"] = len(g.Players)
		games = g.Games
	}

	data["player_status"] = int(games.ParseStatus())
	if mode != domain.GameModeAll {
		data["game_status"] = int(games.Status(mode))
	}
	return data
}

// DrainOne runs the queue head if it is pending. It reports whether a task
// was executed. Handler failures and panics end the task with status error
// and are not returned.
func (s *Scheduler) DrainOne(ctx context.Context) (bool, error) {
	head, err := s.store.HeadTask(ctx)
	if err != nil {
		return false, err
	}
	if head == nil || head.Status != domain.TaskPending {
		return false, nil
	}

	started := s.clock.Now().UTC()
	head.Status = domain.TaskRunning
	head.TimeStarted = &started
	if err := s.store.SetHeadTask(ctx, head); err != nil {
		return false, err
	}
	log := s.logger.With().Str("task", head.Name).Str("id", head.ID).Logger()
	log.Info().Msg("task started")

	runErr := s.run(ctx, head)

	ended := s.clock.Now().UTC()
	head.TimeEnd = &ended
	head.Status = domain.TaskCompleted
	if runErr != nil {
		head.Status = domain.TaskError
		if head.Data == nil {
			head.Data = make(map[string]any)
		}
		head.Data["error"] = runErr.Error()
		log.Error().Err(runErr).Str("error_type", fmt.Sprintf("%T", runErr)).Msg("task failed")
		s.journal.Log(ctx, domain.LogTrackerError, head.Name, runErr.Error(), map[string]any{"task_id": head.ID})
	}

	if _, err := s.removeTask(ctx, head.ID); err != nil {
		return true, err
	}
	if err := s.journal.ArchiveTask(ctx, *head, SourceDrain); err != nil {
		log.Warn().Err(err).Msg("failed to archive task")
	}

	elapsed := ended.Sub(started)
	metrics.TasksTotal.WithLabelValues(string(head.Status)).Inc()
	metrics.TaskDuration.WithLabelValues(string(head.DataType)).Observe(elapsed.Seconds())
	s.journal.Cache(ctx, head.Uno, head.GameMode,
		fmt.Sprintf("%s %s in %s", head.DataType, head.Status, elapsed.Round(time.Second)))
	log.Info().Str("status", string(head.Status)).Dur("elapsed", elapsed).Msg("task finished")
	return true, nil
}

func (s *Scheduler) run(ctx context.Context, task *domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", task.Name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("task panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	target := domain.TargetTypeOf(task.Uno)
	handler, ok := s.handlers[route{target: target, dataType: task.DataType}]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNoHandler, target, task.DataType)
	}
	return handler(ctx, task)
}

// removeTask drops the queue entry holding task id, wherever it sits.
func (s *Scheduler) removeTask(ctx context.Context, id string) (bool, error) {
	entries, err := s.store.QueueEntries(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Task.ID == id {
			return s.store.RemoveEntry(ctx, e.Raw)
		}
	}
	return false, nil
}

// DeleteByName cancels a queued task. Running or paused tasks cannot be
// deleted.
func (s *Scheduler) DeleteByName(ctx context.Context, name string) (bool, error) {
	entries, err := s.store.QueueEntries(ctx)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if e.Task.Name != name {
			continue
		}
		if e.Task.Active() {
			return false, fmt.Errorf("%w: %s", ErrTaskActive, name)
		}
		removed, err := s.store.RemoveEntry(ctx, e.Raw)
		if err != nil || !removed {
			return false, err
		}
		s.archiveDeleted(ctx, e.Task, SourceDelete)
		s.logger.Info().Str("task", name).Msg("task deleted")
		return true, nil
	}
	return false, nil
}

func (s *Scheduler) archiveDeleted(ctx context.Context, task domain.Task, source string) {
	now := s.clock.Now().UTC()
	task.Status = domain.TaskDeleted
	task.TimeEnd = &now
	if err := s.journal.ArchiveTask(ctx, task, source); err != nil {
		s.logger.Warn().Err(err).Str("task", task.Name).Msg("failed to archive task")
	}
	metrics.TasksTotal.WithLabelValues(string(domain.TaskDeleted)).Inc()
}

// ClearStuckOrStale drops every queued task that is not running or paused
// and returns how many were removed.
func (s *Scheduler) ClearStuckOrStale(ctx context.Context) (int, error) {
	tasks, err := s.store.Tasks(ctx)
	if err != nil {
		return 0, err
	}

	var kept, dropped []domain.Task
	for _, t := range tasks {
		if t.Active() {
			kept = append(kept, t)
		} else {
			dropped = append(dropped, t)
		}
	}
	if len(dropped) == 0 {
		return 0, nil
	}
	if err := s.store.ReplaceQueue(ctx, kept); err != nil {
		return 0, err
	}
	for _, t := range dropped {
		s.archiveDeleted(ctx, t, SourceClear)
	}

	s.journal.Log(ctx, domain.LogTracker, "task_queues", fmt.Sprintf("%d tasks cleared", len(dropped)), nil)
	s.logger.Info().Int("cleared", len(dropped)).Int("kept", len(kept)).Msg("task queue cleared")
	return len(dropped), nil
}

// Recover runs once when the monitor boots. A task left running or paused
// by a crashed monitor is archived as error and queued again as a fresh
// pending task at the head; a break left behind is lifted.
func (s *Scheduler) Recover(ctx context.Context) error {
	if swapped, err := s.store.CompareAndSwapStatus(ctx, domain.TrackerBreak, domain.TrackerActive); err != nil {
		return err
	} else if swapped {
		metrics.ObserveStatus(domain.TrackerActive)
		s.logger.Warn().Msg("break left by previous run lifted")
	}

	tasks, err := s.store.Tasks(ctx)
	if err != nil {
		return err
	}

	var (
		resumed []domain.Task
		rest    []domain.Task
		names   = map[string]bool{}
	)
	now := s.clock.Now().UTC()
	for _, t := range tasks {
		if !t.Active() {
			rest = append(rest, t)
			continue
		}

		interrupted := t
		interrupted.Status = domain.TaskError
		interrupted.TimeEnd = &now
		interrupted.Data = copyData(t.Data)
		interrupted.Data["error"] = "interrupted by restart"
		if err := s.journal.ArchiveTask(ctx, interrupted, SourceRecover); err != nil {
			s.logger.Warn().Err(err).Str("task", t.Name).Msg("failed to archive task")
		}
		metrics.TasksTotal.WithLabelValues(string(domain.TaskError)).Inc()

		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate task id: %w", err)
		}
		fresh := t
		fresh.ID = id
		fresh.Status = domain.TaskPending
		fresh.Time = now
		fresh.TimeStarted = nil
		fresh.TimeEnd = nil
		fresh.Data = copyData(t.Data)
		fresh.Data["recovered_from"] = t.ID
		resumed = append(resumed, fresh)
		names[t.Name] = true
		s.logger.Warn().Str("task", t.Name).Str("id", t.ID).Msg("interrupted task queued again")
	}
	if len(resumed) == 0 {
		return nil
	}

	queue := resumed
	for _, t := range rest {
		if names[t.Name] {
			s.archiveDeleted(ctx, t, SourceRecover)
			continue
		}
		queue = append(queue, t)
	}
	return s.store.ReplaceQueue(ctx, queue)
}

func copyData(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
