package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// Policy describes a bounded exponential backoff
type Policy struct {
	// Retryable decides whether an error deserves another attempt (default IsRetryable)
	Retryable   func(error) bool
	Name        string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Default is 3 attempts with 1s, 2s backoff
func Default(name string) Policy {
	return Policy{Name: name, MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Permanent marks an error as not retryable regardless of its text
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Stop wraps err so Do returns it without retrying
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// It returns the number of attempts made.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := p.delay(attempt)
			logger.Debug("retrying call",
				zap.String("call", p.Name),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("backoff", backoff),
			)

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt, fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}
		}

		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		var perm *Permanent
		if errors.As(err, &perm) {
			return attempt + 1, perm.Err
		}
		if ctx.Err() != nil {
			return attempt + 1, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if !p.Retryable(err) {
			return attempt + 1, err
		}

		logger.Warn("retryable error encountered",
			zap.String("call", p.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return p.MaxAttempts, fmt.Errorf("max attempts (%d) exceeded: %w", p.MaxAttempts, lastErr)
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// IsRetryable reports whether err looks transient: rate limits, timeouts,
// dropped connections and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "too many requests", "timeout", "deadline exceeded", "connection refused", "connection reset"} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return statusInText.MatchString(errStr)
}

// statusInText matches a standalone 429/5xx code, not digits inside a number like 1.500
var statusInText = regexp.MustCompile(`(^|[^0-9.])(429|50[0234])($|[^0-9.])`)

// StatusError carries an HTTP status from a hand-rolled client
type StatusError struct {
	Body string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}
