package correlation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Repository stores market-impact measurements
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new correlation repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// SaveImpact upserts one (article, ticker, window) measurement and refreshes the
// article's market_impact_score in the same transaction. The article score
// follows the longest window measured so far.
func (r *Repository) SaveImpact(ctx context.Context, impact *models.MarketImpact) error {
	if impact.ID == uuid.Nil {
		impact.ID = uuid.New()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO market_impacts (
			id, article_id, ticker, window_hours, price_before, price_after,
			price_change_pct, volume_change_pct, sentiment_score,
			correlation_coefficient, impact_score, measured_at
		) VALUES (
			:id, :article_id, :ticker, :window_hours, :price_before, :price_after,
			:price_change_pct, :volume_change_pct, :sentiment_score,
			:correlation_coefficient, :impact_score, :measured_at
		)
		ON CONFLICT (article_id, ticker, window_hours) DO UPDATE SET
			price_before = EXCLUDED.price_before,
			price_after = EXCLUDED.price_after,
			price_change_pct = EXCLUDED.price_change_pct,
			volume_change_pct = EXCLUDED.volume_change_pct,
			sentiment_score = EXCLUDED.sentiment_score,
			correlation_coefficient = EXCLUDED.correlation_coefficient,
			impact_score = EXCLUDED.impact_score,
			measured_at = EXCLUDED.measured_at
	`, impact)
	if err != nil {
		return fmt.Errorf("failed to save market impact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE articles SET
			market_impact_score = (
				SELECT impact_score FROM market_impacts
				WHERE article_id = $1
				ORDER BY window_hours DESC, measured_at DESC
				LIMIT 1
			),
			updated_at = NOW()
		WHERE id = $1
	`, impact.ArticleID)
	if err != nil {
		return fmt.Errorf("failed to update article impact score: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit market impact: %w", err)
	}
	return nil
}

// ListImpactCandidates returns processed articles with a ticker whose window
// has elapsed and that have no measurement for it yet, oldest first
func (r *Repository) ListImpactCandidates(ctx context.Context, windowHours int, lookback time.Duration, limit int) ([]models.Article, error) {
	articles := []models.Article{}
	err := r.db.SelectContext(ctx, &articles, `
		SELECT a.id, a.published_at, a.ticker, a.sentiment_score, a.is_processed
		FROM articles a
		WHERE a.is_processed
			AND NOT a.is_archived
			AND a.ticker IS NOT NULL
			AND a.sentiment_score IS NOT NULL
			AND a.published_at >= NOW() - make_interval(secs => $2)
			AND a.published_at + make_interval(hours => $1) <= NOW()
			AND NOT EXISTS (
				SELECT 1 FROM market_impacts m
				WHERE m.article_id = a.id AND m.ticker = a.ticker AND m.window_hours = $1
			)
		ORDER BY a.published_at ASC
		LIMIT $3
	`, windowHours, lookback.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list impact candidates: %w", err)
	}
	return articles, nil
}

// ListImpacts returns every complete measurement of ticker for one window
func (r *Repository) ListImpacts(ctx context.Context, ticker string, windowHours int) ([]models.MarketImpact, error) {
	impacts := []models.MarketImpact{}
	err := r.db.SelectContext(ctx, &impacts, `
		SELECT id, article_id, ticker, window_hours, price_before, price_after,
			price_change_pct, volume_change_pct, sentiment_score,
			correlation_coefficient, impact_score, measured_at
		FROM market_impacts
		WHERE ticker = $1 AND window_hours = $2 AND price_change_pct IS NOT NULL
		ORDER BY measured_at ASC
	`, strings.ToUpper(ticker), windowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to list market impacts: %w", err)
	}
	return impacts, nil
}

// ListArticleImpacts returns all windows measured for an article
func (r *Repository) ListArticleImpacts(ctx context.Context, articleID uuid.UUID) ([]models.MarketImpact, error) {
	impacts := []models.MarketImpact{}
	err := r.db.SelectContext(ctx, &impacts, `
		SELECT id, article_id, ticker, window_hours, price_before, price_after,
			price_change_pct, volume_change_pct, sentiment_score,
			correlation_coefficient, impact_score, measured_at
		FROM market_impacts
		WHERE article_id = $1
		ORDER BY window_hours ASC
	`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list article impacts: %w", err)
	}
	return impacts, nil
}
