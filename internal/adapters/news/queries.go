package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Read-only projections. None of these write, and every one of them returns
// zeroed or empty values on an empty store.

// ListRecent returns active articles published within the window, newest first
func (r *Repository) ListRecent(ctx context.Context, since time.Duration, limit int) ([]models.Article, error) {
	out := []models.Article{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+articleColumns+` FROM articles
		WHERE NOT is_archived AND published_at >= $1
		ORDER BY published_at DESC
		LIMIT $2
	`, time.Now().Add(-since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent articles: %w", err)
	}
	return out, nil
}

// ListByTicker returns active articles for one ticker, newest first
func (r *Repository) ListByTicker(ctx context.Context, ticker string, limit int) ([]models.Article, error) {
	out := []models.Article{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+articleColumns+` FROM articles
		WHERE NOT is_archived AND ticker = $1
		ORDER BY published_at DESC
		LIMIT $2
	`, strings.ToUpper(ticker), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles by ticker: %w", err)
	}
	return out, nil
}

// TrendPoints returns scored articles in the window, oldest first.
// An empty ticker means every ticker.
func (r *Repository) TrendPoints(ctx context.Context, ticker string, since time.Time) ([]models.TrendPoint, error) {
	out := []models.TrendPoint{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, published_at, title, ticker, sentiment_label,
			sentiment_score, COALESCE(confidence_score, 0) AS confidence_score
		FROM articles
		WHERE NOT is_archived
			AND is_processed
			AND sentiment_score IS NOT NULL
			AND published_at >= $1
			AND ($2::text = '' OR ticker = $2)
		ORDER BY published_at ASC
	`, since, strings.ToUpper(ticker))
	if err != nil {
		return nil, fmt.Errorf("failed to load trend points: %w", err)
	}
	return out, nil
}

// HourlyBuckets averages sentiment per hour over the window
func (r *Repository) HourlyBuckets(ctx context.Context, ticker string, since time.Time) ([]models.TrendBucket, error) {
	out := []models.TrendBucket{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT date_trunc('hour', published_at) AS hour,
			AVG(sentiment_score) AS average_sentiment,
			COUNT(*) AS count
		FROM articles
		WHERE NOT is_archived
			AND is_processed
			AND sentiment_score IS NOT NULL
			AND published_at >= $1
			AND ($2::text = '' OR ticker = $2)
		GROUP BY 1
		ORDER BY 1
	`, since, strings.ToUpper(ticker))
	if err != nil {
		return nil, fmt.Errorf("failed to load hourly buckets: %w", err)
	}
	return out, nil
}

// TrendSummary counts scored articles per polarity over the window
func (r *Repository) TrendSummary(ctx context.Context, ticker string, since time.Time) (models.TrendSummary, error) {
	var row struct {
		models.Distribution
		Total   int     `db:"total"`
		Average float64 `db:"avg_sentiment"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE sentiment_label IN ('positive', 'strongly_positive')) AS positive,
			COUNT(*) FILTER (WHERE sentiment_label IN ('negative', 'strongly_negative')) AS negative,
			COUNT(*) FILTER (WHERE sentiment_label = 'neutral') AS neutral,
			COALESCE(AVG(sentiment_score), 0) AS avg_sentiment
		FROM articles
		WHERE NOT is_archived
			AND is_processed
			AND sentiment_score IS NOT NULL
			AND published_at >= $1
			AND ($2::text = '' OR ticker = $2)
	`, since, strings.ToUpper(ticker))
	if err != nil {
		return models.TrendSummary{}, fmt.Errorf("failed to load trend summary: %w", err)
	}
	return models.TrendSummary{Distribution: row.Distribution, Total: row.Total, AverageSentiment: row.Average}, nil
}

// Stats computes the summary statistics. A nil since means all time.
func (r *Repository) Stats(ctx context.Context, since *time.Time, topN int) (*models.Stats, error) {
	var row struct {
		Total     int     `db:"total"`
		Processed int     `db:"processed"`
		Average   float64 `db:"avg_sentiment"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE is_processed) AS processed,
			COALESCE(AVG(sentiment_score) FILTER (WHERE is_processed), 0) AS avg_sentiment
		FROM articles
		WHERE NOT is_archived
			AND ($1::timestamptz IS NULL OR published_at >= $1)
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	top := []models.TickerCount{}
	err = r.db.SelectContext(ctx, &top, `
		SELECT ticker, COUNT(*) AS count
		FROM articles
		WHERE NOT is_archived
			AND ticker IS NOT NULL
			AND ($1::timestamptz IS NULL OR published_at >= $1)
		GROUP BY ticker
		ORDER BY count DESC, ticker ASC
		LIMIT $2
	`, since, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to load top tickers: %w", err)
	}

	stats := &models.Stats{
		TotalArticles:     row.Total,
		ProcessedArticles: row.Processed,
		AverageSentiment:  row.Average,
		TopTickers:        top,
	}
	if row.Total > 0 {
		stats.ProcessingRate = float64(row.Processed) / float64(row.Total) * 100
	}
	return stats, nil
}
