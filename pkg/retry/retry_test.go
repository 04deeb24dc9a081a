package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{Name: "test", MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("429 rate limit")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return Stop(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return errors.New("invalid json")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) error {
		calls++
		return errors.New("503 service unavailable")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max attempts (2) exceeded")
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Name: "test", MaxAttempts: 3, BaseDelay: time.Hour}

	_, err := Do(ctx, p, func(ctx context.Context) error {
		cancel()
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limit text", errors.New("429 Too Many Requests"), true},
		{"openai 429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"openai 400", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"status 502", &StatusError{Code: 502}, true},
		{"status 401", &StatusError{Code: 401}, false},
		{"plain", errors.New("parse failure"), false},
		{"status code in text", errors.New("server returned 503 service unavailable"), true},
		{"number containing 500", errors.New("sentiment_score 1.500 out of range"), false},
		{"longer number", errors.New("request id 15002 rejected"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
