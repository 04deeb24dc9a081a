package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/newsimpact/pkg/models"
)

type memStore struct {
	mu       sync.Mutex
	articles map[string]*models.Article
	failURL  string
}

func newMemStore() *memStore {
	return &memStore{articles: map[string]*models.Article{}}
}

func (s *memStore) InsertIfAbsent(_ context.Context, a *models.Article) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.URL == s.failURL {
		return false, errors.New("connection reset")
	}
	if _, ok := s.articles[a.DedupKey]; ok {
		return false, nil
	}
	s.articles[a.DedupKey] = a
	return true, nil
}

func raw(url, title string) models.RawArticle {
	return models.RawArticle{
		Provider:    "alphavantage",
		URL:         url,
		Title:       title,
		Body:        "body",
		Source:      "Reuters",
		PublishedAt: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Ticker:      "aapl",
	}
}

func TestIngestSameURLTwiceIsIdempotent(t *testing.T) {
	store := newMemStore()
	ing := New(store)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, []models.RawArticle{raw("https://example.com/a", "Apple beats")})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Len(t, first.InsertedIDs, 1)

	second, err := ing.Ingest(ctx, []models.RawArticle{raw("https://example.com/a", "Apple beats (updated)")})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 1, second.SkippedDuplicate)
	assert.Empty(t, second.InsertedIDs)

	assert.Len(t, store.articles, 1)
	for _, a := range store.articles {
		assert.Equal(t, "Apple beats", a.Title, "first write wins")
	}
}

func TestIngestCountsOutcomes(t *testing.T) {
	store := newMemStore()
	ing := New(store)

	res, err := ing.Ingest(context.Background(), []models.RawArticle{
		raw("https://example.com/a", "A"),
		raw("http://www.example.com/a/?utm_source=x", "A again"),
		raw("", "no url"),
		raw("https://example.com/b", "   "),
		raw("https://example.com/c", "C"),
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.SkippedDuplicate)
	assert.Equal(t, 2, res.RejectedInvalid)
}

func TestIngestContinuesAfterStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failURL = "https://example.com/bad"
	ing := New(store)

	res, err := ing.Ingest(context.Background(), []models.RawArticle{
		raw("https://example.com/bad", "Bad"),
		raw("https://example.com/good", "Good"),
	})

	assert.Error(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngestBuildsArticle(t *testing.T) {
	store := newMemStore()
	ing := New(store)
	r := raw("https://example.com/a", "Apple Inc Shares Rally after Tim Cook update")
	r.CompanyName = "Apple Inc"
	r.Keywords = []string{"Earnings", "Technology", "earnings"}

	_, err := ing.Ingest(context.Background(), []models.RawArticle{r})
	require.NoError(t, err)

	var a *models.Article
	for _, v := range store.articles {
		a = v
	}
	require.NotNil(t, a)
	assert.Equal(t, models.StatusUnscored, a.Status)
	assert.False(t, a.IsProcessed)
	assert.Equal(t, "AAPL", a.TickerSymbol())
	assert.Equal(t, []string{"earnings", "technology"}, []string(a.Keywords))
	assert.Equal(t, EntityTicker, a.Entities["AAPL"])
	assert.Equal(t, EntityOrganization, a.Entities["Apple Inc"])
	assert.Equal(t, EntityOrganization, a.Entities["Tim Cook"])
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(models.RawArticle{Title: "x"}), models.ErrInvalidArticle)
	assert.ErrorIs(t, Validate(models.RawArticle{URL: "https://x"}), models.ErrInvalidArticle)
	assert.NoError(t, Validate(models.RawArticle{URL: "https://x", Title: "t"}))
}
