package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/ratelimit"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/retry"
)

const DefaultBaseURL = "https://www.alphavantage.co/query"

// ErrQuota is returned when the API answers with an Information or Note body
var ErrQuota = errors.New("alpha vantage quota exceeded")

// Client is a rate-limited Alpha Vantage query client shared by the news and price providers
type Client struct {
	http    *http.Client
	limiter *ratelimit.Limiter
	baseURL string
	apiKey  string
}

func NewClient(baseURL, apiKey string, timeout time.Duration, limiter *ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limiter == nil {
		limiter = ratelimit.PerMinute(5)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Query calls function with params and returns the raw JSON object.
// Quota notices become ErrQuota; 429 and 5xx become retryable *retry.StatusError.
func (c *Client) Query(ctx context.Context, function string, params url.Values) (map[string]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("function", function)
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, retry.Stop(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.Backoff(time.Minute)
		}
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, retry.Stop(fmt.Errorf("failed to decode response: %w", err))
	}

	for _, key := range []string{"Information", "Note"} {
		if msg, ok := out[key]; ok {
			c.limiter.Backoff(time.Minute)
			logger.Warn("alpha vantage quota notice", zap.String("function", function), zap.ByteString("message", msg))
			return nil, retry.Stop(fmt.Errorf("%w: %s", ErrQuota, truncate(string(msg), 200)))
		}
	}
	if msg, ok := out["Error Message"]; ok {
		return nil, retry.Stop(fmt.Errorf("alpha vantage error: %s", truncate(string(msg), 200)))
	}

	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
