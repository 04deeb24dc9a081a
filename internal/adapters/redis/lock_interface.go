package redis

import "context"

// JobLock guards a job that must run on one instance at a time.
// Implementations: Redis redlock, in-process.
type JobLock interface {
	// TryAcquire returns false without error when another holder has the lock
	TryAcquire(ctx context.Context) (bool, error)

	Release(ctx context.Context) error

	// Name returns the lock key
	Name() string
}
