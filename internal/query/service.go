package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

const (
	DefaultHours  = 24
	DefaultLimit  = 50
	MaxLimit      = 500
	TopTickersMax = 10
)

// Store is the read side of the article repository
type Store interface {
	ListRecent(ctx context.Context, since time.Duration, limit int) ([]models.Article, error)
	ListByTicker(ctx context.Context, ticker string, limit int) ([]models.Article, error)
	TrendPoints(ctx context.Context, ticker string, since time.Time) ([]models.TrendPoint, error)
	HourlyBuckets(ctx context.Context, ticker string, since time.Time) ([]models.TrendBucket, error)
	TrendSummary(ctx context.Context, ticker string, since time.Time) (models.TrendSummary, error)
	Stats(ctx context.Context, since *time.Time, topN int) (*models.Stats, error)
}

// Cache holds aggregate projections for a short TTL
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Service serves the read-only views. Aggregates never fail hard: on a store
// error they return a zeroed projection together with the error.
type Service struct {
	store Store
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates the query service; cache may be nil
func NewService(store Store, cache Cache, ttl time.Duration) *Service {
	return &Service{store: store, cache: cache, ttl: ttl, now: time.Now}
}

// RecentArticles lists articles published in the last hours, newest first
func (s *Service) RecentArticles(ctx context.Context, hours, limit int) ([]models.Article, error) {
	if hours <= 0 {
		hours = DefaultHours
	}
	return s.store.ListRecent(ctx, time.Duration(hours)*time.Hour, clampLimit(limit))
}

// CompanyNews lists the latest articles about one ticker
func (s *Service) CompanyNews(ctx context.Context, ticker string, limit int) ([]models.Article, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, models.ErrNoTicker
	}
	return s.store.ListByTicker(ctx, ticker, clampLimit(limit))
}

// SentimentTrends returns trend points, hourly buckets and a summary for the
// window, optionally for one ticker
func (s *Service) SentimentTrends(ctx context.Context, ticker string, hours int) (*models.SentimentTrends, error) {
	if hours <= 0 {
		hours = DefaultHours
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	out := &models.SentimentTrends{
		Ticker:  ticker,
		Hours:   hours,
		Points:  []models.TrendPoint{},
		Buckets: []models.TrendBucket{},
	}

	key := fmt.Sprintf("trends:%s:%d", ticker, hours)
	if s.cached(ctx, key, out) {
		return out, nil
	}

	since := s.now().Add(-time.Duration(hours) * time.Hour)

	points, err := s.store.TrendPoints(ctx, ticker, since)
	if err != nil {
		return out, err
	}
	buckets, err := s.store.HourlyBuckets(ctx, ticker, since)
	if err != nil {
		return out, err
	}
	summary, err := s.store.TrendSummary(ctx, ticker, since)
	if err != nil {
		return out, err
	}

	out.Points, out.Buckets, out.Summary = points, buckets, summary
	s.remember(ctx, key, out)
	return out, nil
}

// Stats returns the summary statistics of the last hours; 0 means all time
func (s *Service) Stats(ctx context.Context, hours int) (*models.Stats, error) {
	empty := &models.Stats{TopTickers: []models.TickerCount{}, WindowHours: hours}

	key := fmt.Sprintf("stats:%d", hours)
	cached := &models.Stats{}
	if s.cached(ctx, key, cached) {
		return cached, nil
	}

	var since *time.Time
	if hours > 0 {
		t := s.now().Add(-time.Duration(hours) * time.Hour)
		since = &t
	}

	stats, err := s.store.Stats(ctx, since, TopTickersMax)
	if err != nil {
		return empty, err
	}
	if stats.TopTickers == nil {
		stats.TopTickers = []models.TickerCount{}
	}
	stats.WindowHours = hours

	s.remember(ctx, key, stats)
	return stats, nil
}

func (s *Service) cached(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.GetJSON(ctx, key, dest)
	if err != nil {
		logger.Debug("projection cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}

func (s *Service) remember(ctx context.Context, key string, v interface{}) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, key, v, s.ttl); err != nil {
		logger.Debug("projection cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
