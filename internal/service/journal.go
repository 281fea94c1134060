package service

import (
	"cod-tracker/internal/config"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"cod-tracker/internal/store"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Journal writes the persisted log streams: the logs table and the capped
// progress feed in the shared store. Failures are logged and swallowed so a
// broken log sink never aborts ingestion.
type Journal struct {
	logs   *repository.LogRepository
	store  *store.Store
	limit  int
	logger zerolog.Logger
}

func NewJournal(logs *repository.LogRepository, st *store.Store, cfg *config.Config, logger zerolog.Logger) *Journal {
	return &Journal{logs: logs, store: st, limit: cfg.LogsCacheLimit, logger: logger}
}

// Cache appends a line to the progress feed.
func (j *Journal) Cache(ctx context.Context, target string, mode domain.GameMode, message string) {
	if domain.TargetTypeOf(target) == domain.TargetPlayer {
		target = "[" + target + "]"
	}
	entry := domain.CacheLog{Target: target, GameMode: mode, Message: message, Time: time.Now().UTC()}
	if err := j.store.PushCacheLog(ctx, entry, j.limit); err != nil {
		j.logger.Warn().Err(err).Str("target", target).Msg("failed to push cache log")
	}
}

func (j *Journal) Log(ctx context.Context, kind domain.LogKind, target, message string, data map[string]any) {
	if err := j.logs.Add(ctx, kind, target, message, data); err != nil {
		j.logger.Warn().Err(err).Str("target", target).Str("message", message).Msg("failed to write log")
	}
}

func (j *Journal) ArchiveTask(ctx context.Context, task domain.Task, source string) error {
	return j.logs.ArchiveTask(ctx, task, source)
}
