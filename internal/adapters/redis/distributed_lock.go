package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// DistributedLock is a redlock-backed JobLock that renews itself while held
type DistributedLock struct {
	lockManager *redlock.RedLock
	stop        chan struct{}
	lockName    string
	ttl         time.Duration
	mu          sync.Mutex
	locked      bool
}

// NewDistributedLock creates a lock stored under "job:lock:<name>"
func NewDistributedLock(lockManager *redlock.RedLock, name string, ttl time.Duration) *DistributedLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DistributedLock{
		lockManager: lockManager,
		lockName:    fmt.Sprintf("job:lock:%s", name),
		ttl:         ttl,
	}
}

// TryAcquire attempts to acquire the lock using the Redlock algorithm
func (dl *DistributedLock) TryAcquire(ctx context.Context) (bool, error) {
	expiry, err := dl.lockManager.Lock(ctx, dl.lockName, dl.ttl)
	if err != nil {
		logger.Debug("job lock already held by another instance",
			zap.String("lock_name", dl.lockName),
		)
		return false, nil
	}

	if expiry <= 0 {
		return false, fmt.Errorf("failed to acquire lock: invalid expiry %v", expiry)
	}

	dl.mu.Lock()
	dl.locked = true
	dl.stop = make(chan struct{})
	stop := dl.stop
	dl.mu.Unlock()

	logger.Info("job lock acquired",
		zap.String("lock_name", dl.lockName),
		zap.Duration("ttl", dl.ttl),
	)

	go dl.renewLock(ctx, stop)

	return true, nil
}

// Release stops renewal and unlocks; an already expired lock is not an error
func (dl *DistributedLock) Release(ctx context.Context) error {
	dl.mu.Lock()
	if !dl.locked {
		dl.mu.Unlock()
		return nil
	}
	dl.locked = false
	close(dl.stop)
	dl.mu.Unlock()

	if err := dl.lockManager.UnLock(ctx, dl.lockName); err != nil {
		logger.Warn("failed to release lock (may have already expired)",
			zap.String("lock_name", dl.lockName),
			zap.Error(err),
		)
		return nil
	}

	logger.Debug("job lock released", zap.String("lock_name", dl.lockName))
	return nil
}

func (dl *DistributedLock) Name() string {
	return dl.lockName
}

// renewLock re-acquires the lock at 2/3 of its TTL until released.
// redlock-go has no extend, so renewal is unlock followed by lock.
func (dl *DistributedLock) renewLock(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker((dl.ttl * 2) / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := dl.lockManager.UnLock(ctx, dl.lockName); err != nil {
				logger.Error("lock renewal failed (unlock)",
					zap.String("lock_name", dl.lockName),
					zap.Error(err),
				)
				dl.markLost()
				return
			}

			expiry, err := dl.lockManager.Lock(ctx, dl.lockName, dl.ttl)
			if err != nil || expiry <= 0 {
				logger.Error("job lock lost, another instance may have taken over",
					zap.String("lock_name", dl.lockName),
					zap.Error(err),
				)
				dl.markLost()
				return
			}
		}
	}
}

func (dl *DistributedLock) markLost() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.locked {
		dl.locked = false
		close(dl.stop)
	}
}
