package scheduler

import (
	"cod-tracker/internal/domain"
	"cod-tracker/internal/service"
	"context"
)

// registerDefaults fills the dispatch table. Groups and the "all" target
// share handlers; (all, all) is the auto-update sweep.
func (s *Scheduler) registerDefaults(engine *service.MatchIngestionEngine, promoter *service.Promoter, stats *service.StatsAggregator) {
	updatePlayer := func(ctx context.Context, t *domain.Task) error {
		n, err := engine.UpdatePlayer(ctx, t.Uno, t.GameMode, t.DataType)
		recordCount(t, n)
		return err
	}
	s.Handle(domain.TargetPlayer, domain.DataTypeMatches, updatePlayer)
	s.Handle(domain.TargetPlayer, domain.DataTypeMatchesHistory, updatePlayer)
	s.Handle(domain.TargetPlayer, domain.DataTypeStats, updatePlayer)

	s.Handle(domain.TargetPlayer, domain.DataTypeFullmatchesPars, func(ctx context.Context, t *domain.Task) error {
		summary, err := promoter.PromotePlayer(ctx, t.Uno, t.GameMode)
		recordSummary(t, summary)
		if err != nil {
			return err
		}
		return stats.PlayerMatchesStatsUpdate(ctx, t.Uno, t.GameMode)
	})

	s.Handle(domain.TargetPlayer, domain.DataTypeAll, func(ctx context.Context, t *domain.Task) error {
		n, err := engine.UpdatePlayer(ctx, t.Uno, t.GameMode, domain.DataTypeMatches)
		recordCount(t, n)
		if err != nil {
			return err
		}
		if _, err := engine.UpdatePlayer(ctx, t.Uno, t.GameMode, domain.DataTypeStats); err != nil {
			return err
		}
		summary, err := promoter.PromotePlayer(ctx, t.Uno, t.GameMode)
		recordSummary(t, summary)
		if err != nil {
			return err
		}
		return stats.PlayerMatchesStatsUpdate(ctx, t.Uno, t.GameMode)
	})

	updateGroup := func(ctx context.Context, t *domain.Task) error {
		n, err := engine.UpdateGroup(ctx, t.Uno, t.GameMode, t.DataType)
		recordCount(t, n)
		return err
	}
	promoteGroup := func(ctx context.Context, t *domain.Task) error {
		summary, err := promoter.PromoteGroup(ctx, t.Uno, t.GameMode)
		recordSummary(t, summary)
		return err
	}
	for _, target := range []domain.TargetType{domain.TargetGroup, domain.TargetAll} {
		s.Handle(target, domain.DataTypeMatches, updateGroup)
		s.Handle(target, domain.DataTypeMatchesHistory, updateGroup)
		s.Handle(target, domain.DataTypeStats, updateGroup)
		s.Handle(target, domain.DataTypeFullmatchesPars, promoteGroup)
	}

	s.Handle(domain.TargetGroup, domain.DataTypeAll, func(ctx context.Context, t *domain.Task) error {
		n, err := engine.UpdateGroup(ctx, t.Uno, t.GameMode, domain.DataTypeMatches)
		recordCount(t, n)
		if err != nil {
			return err
		}
		if _, err := engine.UpdateGroup(ctx, t.Uno, t.GameMode, domain.DataTypeStats); err != nil {
			return err
		}
		if err := promoteGroup(ctx, t); err != nil {
			return err
		}
		_, err = stats.Recompute(ctx, t.Uno, true)
		return err
	})

	s.Handle(domain.TargetAll, domain.DataTypeAll, func(ctx context.Context, t *domain.Task) error {
		n, err := engine.UpdateGroup(ctx, service.GroupAll, t.GameMode, domain.DataTypeMatches)
		recordCount(t, n)
		if err != nil {
			return err
		}
		return stats.UpdateAll(ctx)
	})
}

func recordCount(t *domain.Task, n int) {
	if t.Data == nil {
		t.Data = make(map[string]any)
	}
	t.Data["records"] = n
}

func recordSummary(t *domain.Task, summary service.BatchSummary) {
	if t.Data == nil {
		t.Data = make(map[string]any)
	}
	t.Data["fullmatches"] = map[string]any{
		"total":   summary.Total,
		"written": summary.Written,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
		"stopped": summary.Stopped,
	}
}
