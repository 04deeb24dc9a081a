package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/redis"
	"github.com/selivandex/newsimpact/internal/impact"
	"github.com/selivandex/newsimpact/pkg/logger"
)

// PendingCorrelator measures impacts whose windows have elapsed
type PendingCorrelator interface {
	CorrelatePending(ctx context.Context) (impact.PassResult, error)
}

// CorrelationWorker runs the market-impact pass on one instance at a time
type CorrelationWorker struct {
	correlator PendingCorrelator
	lock       redis.JobLock
}

// NewCorrelationWorker creates a new correlation worker
func NewCorrelationWorker(correlator PendingCorrelator, locks redis.LockFactory, lockTTL time.Duration) *CorrelationWorker {
	return &CorrelationWorker{
		correlator: correlator,
		lock:       locks.NewLock("market_impact", lockTTL),
	}
}

func (w *CorrelationWorker) Name() string {
	return "market_impact"
}

func (w *CorrelationWorker) Run(ctx context.Context) error {
	return withLock(ctx, w.lock, func(ctx context.Context) error {
		res, err := w.correlator.CorrelatePending(ctx)
		if err != nil {
			return err
		}
		if res.Measured+res.Failed > 0 {
			logger.Info("market impact pass finished",
				zap.Int("measured", res.Measured),
				zap.Int("waiting_for_prices", res.Insufficient),
				zap.Int("failed", res.Failed),
			)
		}
		return nil
	})
}

// withLock runs fn only if lock is free; a held lock is a silent skip
func withLock(ctx context.Context, lock redis.JobLock, fn func(ctx context.Context) error) error {
	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Debug("job lock held elsewhere, skipping", zap.String("lock", lock.Name()))
		return nil
	}
	defer func() {
		// release even when ctx is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("failed to release job lock", zap.String("lock", lock.Name()), zap.Error(err))
		}
	}()
	return fn(ctx)
}
