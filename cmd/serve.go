package main

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/clickhouse"
	"github.com/selivandex/newsimpact/internal/adapters/database"
	"github.com/selivandex/newsimpact/internal/adapters/price"
	"github.com/selivandex/newsimpact/internal/health"
	"github.com/selivandex/newsimpact/internal/workers"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion, scoring, embedding and correlation workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			if err := database.RunMigrations(a.db.Conn(), cfg.Database.MigrationsPath); err != nil {
				a.Close(context.Background())
				return err
			}
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger.Info("newsimpact service starting",
		zap.Strings("tickers", cfg.News.Tickers),
		zap.Ints("impact_windows", cfg.Impact.WindowHours),
	)

	group := worker.NewGroup(ctx)
	group.Add(workers.NewNewsWorker(a.pipeline, models.FetchParams{
		Tickers: cfg.News.Tickers,
		Topics:  cfg.News.Topics,
		Limit:   cfg.News.MaxArticles,
	}, cfg.News.Interval), cfg.News.Interval)
	group.Add(workers.NewScoringWorker(a.pipeline), cfg.Sentiment.Interval)
	group.Add(workers.NewEmbeddingBackfillWorker(a.pipeline, cfg.Embeddings.BatchSize), cfg.Embeddings.Interval)
	group.Add(workers.NewCorrelationWorker(a.correlator, a.locks, cfg.Impact.Interval), cfg.Impact.Interval)

	var bars *clickhouse.BarBatchWriter
	if cfg.Prices.Enabled {
		bars = clickhouse.NewBarBatchWriter(a.barStore, cfg.Prices.BatchSize, cfg.Prices.FlushInterval)
		source := price.NewAlphaVantageSource(a.av, cfg.Prices.BarInterval, cfg.News.FetchMaxAttempts)
		group.Add(workers.NewPriceWorker(source, bars, cfg.News.Tickers), cfg.Prices.Interval)
	}
	group.Start()

	scheduler := workers.NewScheduler(ctx)
	archiveLock := a.locks.NewLock("archive_cleanup", cfg.Archive.LockTTL)
	if err := scheduler.AddArchiveJob(cfg.Archive.Schedule, a.pipeline, cfg.Archive.RetentionDays, archiveLock); err != nil {
		group.Stop(shutdownTimeout)
		a.Close(context.Background())
		return err
	}
	scheduler.Start()

	healthServer := health.NewServer(strconv.Itoa(cfg.Health.Port), a.checks())
	go func() {
		if err := healthServer.Start(); err != nil {
			logger.Error("health server failed", zap.Error(err))
		}
	}()
	healthServer.SetReady(true)

	<-ctx.Done()

	return shutdown(a, group, scheduler, bars, healthServer)
}

// shutdown stops intake first, then flushes buffered writes, then closes connections
func shutdown(a *app, group *worker.Group, scheduler *workers.Scheduler, bars *clickhouse.BarBatchWriter, hs *health.Server) error {
	logger.Info("starting graceful shutdown...")
	hs.SetReady(false)

	group.Stop(shutdownTimeout)
	scheduler.Stop(shutdownTimeout)

	if bars != nil {
		if err := bars.Close(); err != nil {
			logger.Error("failed to flush price bars", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hs.Stop(ctx); err != nil {
		logger.Error("failed to stop health server", zap.Error(err))
	}
	a.Close(ctx)

	logger.Info("shutdown complete")
	return nil
}
