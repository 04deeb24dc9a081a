package redis

import (
	"context"
	"sync"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
)

// LockFactory creates named job locks
type LockFactory interface {
	NewLock(name string, ttl time.Duration) JobLock
}

// RedisLockFactory creates Redis-based distributed locks
type RedisLockFactory struct {
	lockManager *redlock.RedLock
}

// NewRedisLockFactory creates new Redis lock factory
func NewRedisLockFactory(lockManager *redlock.RedLock) *RedisLockFactory {
	return &RedisLockFactory{
		lockManager: lockManager,
	}
}

func (f *RedisLockFactory) NewLock(name string, ttl time.Duration) JobLock {
	return NewDistributedLock(f.lockManager, name, ttl)
}

// LocalLockFactory hands out in-process locks. Used when Redis is disabled
// (single instance) and in tests.
type LocalLockFactory struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLockFactory() *LocalLockFactory {
	return &LocalLockFactory{held: make(map[string]bool)}
}

func (f *LocalLockFactory) NewLock(name string, _ time.Duration) JobLock {
	return &localLock{factory: f, name: name}
}

type localLock struct {
	factory *LocalLockFactory
	name    string
	mine    bool
}

func (l *localLock) TryAcquire(ctx context.Context) (bool, error) {
	l.factory.mu.Lock()
	defer l.factory.mu.Unlock()

	if l.factory.held[l.name] {
		return false, nil
	}
	l.factory.held[l.name] = true
	l.mine = true
	return true, nil
}

func (l *localLock) Release(ctx context.Context) error {
	l.factory.mu.Lock()
	defer l.factory.mu.Unlock()

	if l.mine {
		delete(l.factory.held, l.name)
		l.mine = false
	}
	return nil
}

func (l *localLock) Name() string {
	return l.name
}
