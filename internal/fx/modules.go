package fx

import (
	"cod-tracker/internal/api"
	"cod-tracker/internal/codec"
	"cod-tracker/internal/config"
	"cod-tracker/internal/database"
	"cod-tracker/internal/logger"
	"cod-tracker/internal/metrics"
	"cod-tracker/internal/repository"
	"cod-tracker/internal/scheduler"
	"cod-tracker/internal/server"
	"cod-tracker/internal/service"
	"cod-tracker/internal/store"
	"context"
	"database/sql"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideCodec(labels *repository.LabelRepository, logger zerolog.Logger) *codec.Codec {
	return codec.New(labels, logger)
}

// startCore warms the label index and target cache before anything runs
// and closes the shared connections on stop.
func startCore(lc fx.Lifecycle, c *codec.Codec, games *service.GamesStatus, st *store.Store, db *sql.DB, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Load(ctx); err != nil {
				return err
			}
			if err := games.RefreshCache(ctx); err != nil {
				return err
			}
			status, err := st.Status(ctx)
			if err != nil {
				return err
			}
			metrics.ObserveStatus(status)
			logger.Info().Str("status", string(status)).Msg("tracker core ready")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := st.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis connection")
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(logger.New),
	fx.Invoke(config.LogSummary),
	fx.Provide(database.New),
	fx.Provide(store.New),
	fx.Provide(clockwork.NewRealClock),
	// repos
	fx.Provide(repository.DefaultPartitions),
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewMatchRepository),
	fx.Provide(repository.NewLabelRepository),
	fx.Provide(repository.NewLogRepository),
	fx.Provide(ProvideCodec),
	// api client
	fx.Provide(fx.Annotate(api.NewClient, fx.As(new(service.Provider)), fx.As(new(service.SnapshotReader)))),
	// svc
	fx.Provide(service.NewJournal),
	fx.Provide(service.NewBackoff),
	fx.Provide(service.NewGameDataFetcher),
	fx.Provide(service.NewMatchFormatter),
	fx.Provide(service.NewGamesStatus),
	fx.Provide(service.NewPromoter),
	fx.Provide(service.NewStatsAggregator),
	fx.Provide(service.NewMatchIngestionEngine),
	fx.Provide(service.NewFullmatchLoader),
	fx.Provide(service.NewTrackerService),
	// queue
	fx.Provide(fx.Annotate(scheduler.NewScheduler, fx.As(fx.Self()), fx.As(new(service.Enqueuer)))),
	fx.Provide(scheduler.NewMonitor),
	// server
	fx.Provide(server.NewTrackerServer),
	fx.Invoke(startCore),
)
