package price

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Repository is the Postgres price store (market_bars). It implements Feed and Store.
type Repository struct {
	db       *sqlx.DB
	interval string
}

// NewRepository creates a store reading and writing bars of one interval
func NewRepository(db *sqlx.DB, interval string) *Repository {
	return &Repository{db: db, interval: interval}
}

// SaveBars upserts bars; a re-fetched bar replaces the stored one
func (r *Repository) SaveBars(ctx context.Context, bars []models.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO market_bars (ticker, bar_interval, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ticker, bar_interval, ts) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, strings.ToUpper(b.Ticker), b.Interval, b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return 0, fmt.Errorf("failed to save bar %s %s: %w", b.Ticker, b.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bars: %w", err)
	}
	return len(bars), nil
}

func (r *Repository) AtOrBefore(ctx context.Context, ticker string, at time.Time, tolerance time.Duration) (*models.PricePoint, error) {
	var p models.PricePoint
	err := r.db.GetContext(ctx, &p, `
		SELECT ts, ticker, close, volume
		FROM market_bars
		WHERE ticker = $1 AND bar_interval = $2
			AND ts <= $3 AND ts >= $4
		ORDER BY ts DESC
		LIMIT 1
	`, strings.ToUpper(ticker), r.interval, at.UTC(), at.Add(-tolerance).UTC())
	return pointOrInsufficient(&p, err, ticker, at)
}

func (r *Repository) Nearest(ctx context.Context, ticker string, at time.Time, tolerance time.Duration) (*models.PricePoint, error) {
	var p models.PricePoint
	err := r.db.GetContext(ctx, &p, `
		SELECT ts, ticker, close, volume
		FROM market_bars
		WHERE ticker = $1 AND bar_interval = $2
			AND ts BETWEEN $4 AND $5
		ORDER BY ABS(EXTRACT(EPOCH FROM (ts - $3::timestamptz))), ts DESC
		LIMIT 1
	`, strings.ToUpper(ticker), r.interval, at.UTC(), at.Add(-tolerance).UTC(), at.Add(tolerance).UTC())
	return pointOrInsufficient(&p, err, ticker, at)
}

func pointOrInsufficient(p *models.PricePoint, err error, ticker string, at time.Time) (*models.PricePoint, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no %s bar near %s", models.ErrInsufficientPriceData, ticker, at.UTC().Format(time.RFC3339))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read price: %w", err)
	}
	return p, nil
}
