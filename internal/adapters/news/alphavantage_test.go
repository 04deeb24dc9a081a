package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/newsimpact/internal/adapters/alphavantage"
	"github.com/selivandex/newsimpact/internal/adapters/ratelimit"
	"github.com/selivandex/newsimpact/pkg/models"
)

const feedFixture = `{
	"items": "2",
	"feed": [
		{
			"title": "Apple Beats Earnings Expectations",
			"url": "https://example.com/apple",
			"time_published": "20240102T153000",
			"authors": ["Jane Doe"],
			"summary": "Apple reported record revenue.",
			"source": "Benzinga",
			"topics": [{"topic": "Earnings"}, {"topic": "Technology"}],
			"ticker_sentiment": [{"ticker": "AAPL", "ticker_name": "Apple Inc"}]
		},
		{"title": "broken", "time_published": "yesterday"}
	]
}`

func newTestProvider(t *testing.T, body string) (*AlphaVantageProvider, *string) {
	t.Helper()
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := alphavantage.NewClient(srv.URL, "demo", 5*time.Second, ratelimit.PerMinute(0))
	return NewAlphaVantageProvider(client, 50, 1), &query
}

func TestAlphaVantageProvider_Fetch(t *testing.T) {
	p, query := newTestProvider(t, feedFixture)

	articles, err := p.Fetch(context.Background(), models.FetchParams{Tickers: []string{"AAPL"}, Limit: 500})
	require.NoError(t, err)
	require.Len(t, articles, 1, "unparsable items are skipped")

	a := articles[0]
	assert.Equal(t, "AAPL", a.Ticker)
	assert.Equal(t, "Apple Inc", a.CompanyName)
	assert.Equal(t, []string{"Earnings", "Technology"}, a.Keywords)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC), a.PublishedAt)
	assert.NotEmpty(t, a.Payload)

	assert.Contains(t, *query, "function=NEWS_SENTIMENT")
	assert.Contains(t, *query, "tickers=AAPL")
	assert.Contains(t, *query, "limit=50", "limit is capped at the provider maximum")
}

func TestAlphaVantageProvider_QuotaIsSourceUnavailable(t *testing.T) {
	p, _ := newTestProvider(t, `{"Information": "API rate limit is 25 requests per day."}`)

	_, err := p.Fetch(context.Background(), models.FetchParams{})
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}
