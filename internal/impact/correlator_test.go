package impact

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/newsimpact/internal/adapters/correlation"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

var published = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

type fakeArticles map[uuid.UUID]*models.Article

func (f fakeArticles) GetByID(_ context.Context, id uuid.UUID) (*models.Article, error) {
	a, ok := f[id]
	if !ok {
		return nil, models.ErrArticleNotFound
	}
	return a, nil
}

type fakeStore struct {
	saved      map[string]*models.MarketImpact
	candidates []models.Article
	impacts    []models.MarketImpact
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: map[string]*models.MarketImpact{}}
}

func (s *fakeStore) SaveImpact(_ context.Context, m *models.MarketImpact) error {
	s.saved[fmt.Sprintf("%s/%s/%d", m.ArticleID, m.Ticker, m.WindowHours)] = m
	return nil
}

func (s *fakeStore) ListImpactCandidates(context.Context, int, time.Duration, int) ([]models.Article, error) {
	return s.candidates, nil
}

func (s *fakeStore) ListImpacts(context.Context, string, int) ([]models.MarketImpact, error) {
	return s.impacts, nil
}

// fakeFeed serves exact-time prices; anything else is missing
type fakeFeed map[time.Time]float64

func (f fakeFeed) point(at time.Time) (*models.PricePoint, error) {
	p, ok := f[at]
	if !ok {
		return nil, fmt.Errorf("%w: nothing at %s", models.ErrInsufficientPriceData, at)
	}
	return &models.PricePoint{Timestamp: at, Price: decimal.NewFromFloat(p), Volume: decimal.NewFromInt(1000)}, nil
}

func (f fakeFeed) AtOrBefore(_ context.Context, _ string, at time.Time, _ time.Duration) (*models.PricePoint, error) {
	return f.point(at)
}

func (f fakeFeed) Nearest(_ context.Context, _ string, at time.Time, _ time.Duration) (*models.PricePoint, error) {
	return f.point(at)
}

func testConfig() Config {
	return Config{
		Weights:   Weights{PriceScale: 5, VolumeScale: 50, PriceWeight: 0.8, VolumeWeight: 0.2},
		Windows:   []int{24},
		Tolerance: 30 * time.Minute,
		Lookback:  7 * 24 * time.Hour,
		BatchSize: 10,
	}
}

func scoredArticle(score float64) *models.Article {
	ticker := "AAPL"
	return &models.Article{
		ID:             uuid.New(),
		PublishedAt:    published,
		Ticker:         &ticker,
		SentimentScore: &score,
		IsProcessed:    true,
	}
}

func newCorrelator(a *models.Article, feed fakeFeed, store *fakeStore) *Correlator {
	c := NewCorrelator(fakeArticles{a.ID: a}, store, feed, nil, testConfig())
	c.now = func() time.Time { return published.Add(72 * time.Hour) }
	return c
}

func TestMain(m *testing.M) {
	logger.InitNop()
	m.Run()
}

func TestCorrelate_SignAlignment(t *testing.T) {
	a := scoredArticle(0.7)
	end := published.Add(24 * time.Hour)

	up, err := newCorrelator(a, fakeFeed{published: 100, end: 105}, newFakeStore()).Correlate(context.Background(), a.ID, "", 24)
	require.NoError(t, err)
	down, err := newCorrelator(a, fakeFeed{published: 100, end: 95}, newFakeStore()).Correlate(context.Background(), a.ID, "", 24)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, *up.PriceChangePct, 1e-9)
	assert.Greater(t, up.ImpactScore, down.ImpactScore)
	assert.Greater(t, up.ImpactScore, 0.0)
	assert.Less(t, down.ImpactScore, 0.0)
	assert.Greater(t, up.CorrelationCoef, 0.0)
	assert.Equal(t, "AAPL", up.Ticker)
	assert.True(t, up.PriceBefore.Valid)
	assert.True(t, up.PriceAfter.Valid)
}

func TestCorrelate_InsufficientPriceData(t *testing.T) {
	a := scoredArticle(0.7)
	store := newFakeStore()

	impact, err := newCorrelator(a, fakeFeed{published: 100}, store).Correlate(context.Background(), a.ID, "AAPL", 24)
	require.ErrorIs(t, err, models.ErrInsufficientPriceData)
	assert.Nil(t, impact)
	assert.Empty(t, store.saved)
}

func TestCorrelate_WindowNotElapsed(t *testing.T) {
	a := scoredArticle(0.7)
	c := newCorrelator(a, fakeFeed{}, newFakeStore())
	c.now = func() time.Time { return published.Add(time.Hour) }

	_, err := c.Correlate(context.Background(), a.ID, "AAPL", 24)
	assert.ErrorIs(t, err, models.ErrInsufficientPriceData)
}

func TestCorrelate_Preconditions(t *testing.T) {
	unprocessed := scoredArticle(0.3)
	unprocessed.IsProcessed = false
	_, err := newCorrelator(unprocessed, fakeFeed{}, newFakeStore()).Correlate(context.Background(), unprocessed.ID, "AAPL", 24)
	assert.ErrorIs(t, err, models.ErrNotProcessed)

	noTicker := scoredArticle(0.3)
	noTicker.Ticker = nil
	_, err = newCorrelator(noTicker, fakeFeed{}, newFakeStore()).Correlate(context.Background(), noTicker.ID, "", 24)
	assert.ErrorIs(t, err, models.ErrNoTicker)

	_, err = newCorrelator(noTicker, fakeFeed{}, newFakeStore()).Correlate(context.Background(), noTicker.ID, "MSFT", 0)
	assert.Error(t, err)
}

func TestCorrelate_OverwritesSameWindow(t *testing.T) {
	a := scoredArticle(-0.6)
	end := published.Add(24 * time.Hour)
	store := newFakeStore()
	c := newCorrelator(a, fakeFeed{published: 100, end: 90}, store)

	_, err := c.Correlate(context.Background(), a.ID, "", 24)
	require.NoError(t, err)
	second, err := c.Correlate(context.Background(), a.ID, "", 24)
	require.NoError(t, err)

	assert.Len(t, store.saved, 1)
	assert.Greater(t, second.ImpactScore, 0.0, "negative news with a falling price is aligned")
}

func TestCorrelatePending(t *testing.T) {
	withPrices := scoredArticle(0.5)
	withoutPrices := scoredArticle(0.5)
	withoutPrices.PublishedAt = published.Add(time.Hour)

	store := newFakeStore()
	store.candidates = []models.Article{*withPrices, *withoutPrices}
	end := published.Add(24 * time.Hour)

	c := newCorrelator(withPrices, fakeFeed{published: 50, end: 51}, store)
	res, err := c.CorrelatePending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Measured)
	assert.Equal(t, 1, res.Insufficient)
	assert.Equal(t, 0, res.Failed)
}

func TestCorrelateTicker(t *testing.T) {
	store := newFakeStore()
	for i, s := range []float64{0.8, 0.3, -0.2, -0.7} {
		pct := float64(4 - 2*i)
		store.impacts = append(store.impacts, models.MarketImpact{SentimentScore: s, PriceChangePct: &pct})
	}
	a := scoredArticle(0)
	c := newCorrelator(a, fakeFeed{}, store)

	corr, err := c.CorrelateTicker(context.Background(), "aapl", 24)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", corr.Ticker)
	assert.Equal(t, 4, corr.SampleSize)
	assert.Greater(t, corr.Coefficient, 0.9)

	store.impacts = store.impacts[:2]
	_, err = c.CorrelateTicker(context.Background(), "AAPL", 24)
	assert.ErrorIs(t, err, correlation.ErrTooFewSamples)
}

func TestScore(t *testing.T) {
	w := testConfig().Weights
	vol := 100.0

	_, flat := Score(0.9, Measurement{PriceChangePct: 0}, w)
	assert.Zero(t, flat)

	_, small := Score(0.7, Measurement{PriceChangePct: 1}, w)
	_, large := Score(0.7, Measurement{PriceChangePct: 8}, w)
	assert.Greater(t, large, small)

	_, withVolume := Score(0.7, Measurement{PriceChangePct: 1, VolumeChangePct: &vol}, w)
	assert.Greater(t, withVolume, small)

	coef, _ := Score(1, Measurement{PriceChangePct: 1000}, w)
	assert.LessOrEqual(t, coef, 1.0)
}
