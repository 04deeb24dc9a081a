package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/redis"
	"github.com/selivandex/newsimpact/pkg/logger"
)

// Archiver flags articles past retention
type Archiver interface {
	Archive(ctx context.Context, days int) (int64, error)
}

// Scheduler runs cron jobs under job locks
type Scheduler struct {
	ctx  context.Context
	cron *cron.Cron
}

// NewScheduler creates a seconds-precision cron scheduler bound to ctx
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{
		ctx:  ctx,
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
	}
}

// AddArchiveJob schedules the retention cleanup. The job runs on one
// instance at a time through lock.
func (s *Scheduler) AddArchiveJob(spec string, archiver Archiver, days int, lock redis.JobLock) error {
	_, err := s.cron.AddFunc(spec, func() {
		err := withLock(s.ctx, lock, func(ctx context.Context) error {
			n, err := archiver.Archive(ctx, days)
			if err != nil {
				return err
			}
			logger.Info("archive job finished", zap.Int64("archived", n), zap.Int("retention_days", days))
			return nil
		})
		if err != nil {
			logger.Error("archive job failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("cron scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs, at most timeout
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
		logger.Warn("cron jobs still running at shutdown")
	}
}
