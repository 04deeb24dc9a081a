package impact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/correlation"
	"github.com/selivandex/newsimpact/internal/adapters/price"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/metrics"
	"github.com/selivandex/newsimpact/pkg/models"
)

// ArticleSource loads scored articles
type ArticleSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Article, error)
}

// Store persists measurements and lists the ones still missing
type Store interface {
	SaveImpact(ctx context.Context, impact *models.MarketImpact) error
	ListImpactCandidates(ctx context.Context, windowHours int, lookback time.Duration, limit int) ([]models.Article, error)
	ListImpacts(ctx context.Context, ticker string, windowHours int) ([]models.MarketImpact, error)
}

type Config struct {
	Weights
	Windows   []int
	Tolerance time.Duration
	Lookback  time.Duration
	BatchSize int
}

// Correlator joins scored articles with the price feed
type Correlator struct {
	articles ArticleSource
	store    Store
	feed     price.Feed
	metrics  metrics.Buffer
	now      func() time.Time
	cfg      Config
}

func NewCorrelator(articles ArticleSource, store Store, feed price.Feed, buf metrics.Buffer, cfg Config) *Correlator {
	if buf == nil {
		buf = metrics.Nop{}
	}
	return &Correlator{
		articles: articles,
		store:    store,
		feed:     feed,
		metrics:  buf,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Correlate measures one article against ticker over windowHours and
// overwrites any earlier measurement of the same window. An empty ticker means
// the article's own ticker. Nothing is written when price data is missing.
func (c *Correlator) Correlate(ctx context.Context, articleID uuid.UUID, ticker string, windowHours int) (*models.MarketImpact, error) {
	if windowHours <= 0 {
		return nil, fmt.Errorf("impact window must be positive, got %d", windowHours)
	}

	article, err := c.articles.GetByID(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !article.IsProcessed || article.SentimentScore == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrNotProcessed, articleID)
	}

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		ticker = article.TickerSymbol()
	}
	if ticker == "" {
		return nil, fmt.Errorf("%w: %s", models.ErrNoTicker, articleID)
	}

	impact, err := c.measure(ctx, article.ID, article.PublishedAt, *article.SentimentScore, ticker, windowHours)
	if err != nil {
		return nil, err
	}

	if err := c.store.SaveImpact(ctx, impact); err != nil {
		return nil, err
	}

	c.record(impact)
	return impact, nil
}

func (c *Correlator) measure(ctx context.Context, articleID uuid.UUID, published time.Time, sentiment float64, ticker string, windowHours int) (*models.MarketImpact, error) {
	end := published.Add(time.Duration(windowHours) * time.Hour)
	if end.After(c.now()) {
		return nil, fmt.Errorf("%w: %dh window for %s has not elapsed", models.ErrInsufficientPriceData, windowHours, articleID)
	}

	before, err := c.feed.AtOrBefore(ctx, ticker, published, c.cfg.Tolerance)
	if err != nil {
		return nil, err
	}
	after, err := c.feed.Nearest(ctx, ticker, end, c.cfg.Tolerance)
	if err != nil {
		return nil, err
	}

	m, err := Measure(before, after)
	if err != nil {
		return nil, err
	}
	coef, score := Score(sentiment, m, c.cfg.Weights)

	pct := m.PriceChangePct
	return &models.MarketImpact{
		ID:              uuid.New(),
		ArticleID:       articleID,
		Ticker:          ticker,
		WindowHours:     windowHours,
		PriceBefore:     decimal.NewNullDecimal(before.Price),
		PriceAfter:      decimal.NewNullDecimal(after.Price),
		PriceChangePct:  &pct,
		VolumeChangePct: m.VolumeChangePct,
		SentimentScore:  sentiment,
		CorrelationCoef: coef,
		ImpactScore:     score,
		MeasuredAt:      c.now().UTC(),
	}, nil
}

func (c *Correlator) record(impact *models.MarketImpact) {
	if err := c.metrics.Add(&metrics.ImpactMetric{
		Timestamp:      impact.MeasuredAt,
		ArticleID:      impact.ArticleID.String(),
		Ticker:         impact.Ticker,
		WindowHours:    impact.WindowHours,
		PriceChangePct: *impact.PriceChangePct,
		ImpactScore:    impact.ImpactScore,
	}); err != nil {
		logger.Debug("impact metric dropped", zap.Error(err))
	}
}

// PassResult counts one background correlation pass
type PassResult struct {
	Measured     int
	Insufficient int
	Failed       int
}

// CorrelatePending measures every candidate of every configured window.
// Missing price data is a skip; the article is picked up again next pass.
func (c *Correlator) CorrelatePending(ctx context.Context) (PassResult, error) {
	var res PassResult

	for _, window := range c.cfg.Windows {
		candidates, err := c.store.ListImpactCandidates(ctx, window, c.cfg.Lookback, c.cfg.BatchSize)
		if err != nil {
			return res, err
		}

		for _, a := range candidates {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			impact, err := c.measure(ctx, a.ID, a.PublishedAt, *a.SentimentScore, a.TickerSymbol(), window)
			if err == nil {
				err = c.store.SaveImpact(ctx, impact)
			}
			switch {
			case err == nil:
				c.record(impact)
				res.Measured++
			case errors.Is(err, models.ErrInsufficientPriceData):
				res.Insufficient++
				logger.Debug("price data not available yet",
					zap.String("article_id", a.ID.String()),
					zap.Int("window_hours", window),
					zap.Error(err),
				)
			default:
				res.Failed++
				logger.Warn("market impact failed",
					zap.String("article_id", a.ID.String()),
					zap.String("ticker", a.TickerSymbol()),
					zap.Int("window_hours", window),
					zap.Error(err),
				)
			}
		}
	}

	return res, nil
}

// CorrelateTicker returns the Pearson coefficient between sentiment scores and
// price changes across all measurements of ticker for one window
func (c *Correlator) CorrelateTicker(ctx context.Context, ticker string, windowHours int) (*models.TickerCorrelation, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, models.ErrNoTicker
	}

	impacts, err := c.store.ListImpacts(ctx, ticker, windowHours)
	if err != nil {
		return nil, err
	}

	sentiments := make([]float64, 0, len(impacts))
	changes := make([]float64, 0, len(impacts))
	for _, imp := range impacts {
		if imp.PriceChangePct == nil {
			continue
		}
		sentiments = append(sentiments, imp.SentimentScore)
		changes = append(changes, *imp.PriceChangePct)
	}

	coef, err := correlation.Pearson(sentiments, changes)
	if err != nil {
		return nil, fmt.Errorf("%s %dh: %w", ticker, windowHours, err)
	}

	return &models.TickerCorrelation{
		Ticker:       ticker,
		WindowHours:  windowHours,
		Coefficient:  coef,
		SampleSize:   len(sentiments),
		CalculatedAt: c.now().UTC(),
	}, nil
}
