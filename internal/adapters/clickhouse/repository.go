package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// Repository handles ClickHouse writes: price bars and schema bootstrap
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new ClickHouse repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// schema is applied by EnsureSchema. ReplacingMergeTree collapses re-fetched bars.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS market_bars (
		ts           DateTime64(3, 'UTC'),
		ticker       LowCardinality(String),
		bar_interval LowCardinality(String),
		open         Float64,
		high         Float64,
		low          Float64,
		close        Float64,
		volume       Float64
	) ENGINE = ReplacingMergeTree
	ORDER BY (ticker, bar_interval, ts)`,

	`CREATE TABLE IF NOT EXISTS scoring_metrics (
		timestamp  DateTime64(3, 'UTC'),
		article_id String,
		model      LowCardinality(String),
		kind       LowCardinality(String),
		score      Float64,
		confidence Float64,
		latency_ms Int64,
		attempts   Int32,
		succeeded  Bool
	) ENGINE = MergeTree
	ORDER BY (model, timestamp)
	TTL toDateTime(timestamp) + INTERVAL 90 DAY`,

	`CREATE TABLE IF NOT EXISTS ingest_metrics (
		timestamp         DateTime64(3, 'UTC'),
		provider          LowCardinality(String),
		fetched           Int32,
		inserted          Int32,
		skipped_duplicate Int32,
		rejected_invalid  Int32,
		duration_ms       Int64
	) ENGINE = MergeTree
	ORDER BY (provider, timestamp)
	TTL toDateTime(timestamp) + INTERVAL 90 DAY`,

	`CREATE TABLE IF NOT EXISTS embedding_cache_metrics (
		timestamp   DateTime64(3, 'UTC'),
		text_hash   String,
		text_length Int32,
		model       LowCardinality(String),
		cache_hit   Bool
	) ENGINE = MergeTree
	ORDER BY (model, timestamp)
	TTL toDateTime(timestamp) + INTERVAL 30 DAY`,

	`CREATE TABLE IF NOT EXISTS impact_metrics (
		timestamp        DateTime64(3, 'UTC'),
		article_id       String,
		ticker           LowCardinality(String),
		window_hours     Int32,
		price_change_pct Float64,
		impact_score     Float64
	) ENGINE = MergeTree
	ORDER BY (ticker, window_hours, timestamp)`,
}

// EnsureSchema creates the ClickHouse tables if missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			name := strings.Fields(strings.TrimPrefix(stmt, "CREATE TABLE IF NOT EXISTS "))[0]
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
	}
	logger.Info("clickhouse schema ready", zap.Int("tables", len(schema)))
	return nil
}

// SaveBars writes bars as one native batch (prepare inside a tx)
func (r *Repository) SaveBars(ctx context.Context, bars []models.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO market_bars (ts, ticker, bar_interval, open, high, low, close, volume)
	`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err = stmt.ExecContext(ctx,
			b.Timestamp.UTC(),
			strings.ToUpper(b.Ticker),
			b.Interval,
			b.Open.InexactFloat64(),
			b.High.InexactFloat64(),
			b.Low.InexactFloat64(),
			b.Close.InexactFloat64(),
			b.Volume.InexactFloat64(),
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("saved bars to ClickHouse", zap.Int("count", len(bars)))
	return len(bars), nil
}
