package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with an extra pause after the upstream reports a quota hit
type Limiter struct {
	limiter *rate.Limiter
	retryAt time.Time
	mu      sync.Mutex
}

// PerMinute allows rpm requests per minute with a burst of at least one
func PerMinute(rpm float64) *Limiter {
	if rpm <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := int(math.Max(1, math.Floor(rpm/60)))
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rpm/60), burst)}
}

// Wait blocks until a request may be sent or ctx ends
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Backoff pauses all callers for d, e.g. after a 429 or a quota notice
func (l *Limiter) Backoff(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := time.Now().Add(d); until.After(l.retryAt) {
		l.retryAt = until
	}
}
