package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Repository reads price bars from ClickHouse. It implements price.Feed.
type Repository struct {
	ch       *sqlx.DB // ClickHouse connection
	interval string
}

// NewRepository creates new market repository for one bar interval
func NewRepository(ch *sqlx.DB, interval string) *Repository {
	return &Repository{ch: ch, interval: interval}
}

// AtOrBefore returns the latest bar at or before at, within tolerance
func (r *Repository) AtOrBefore(ctx context.Context, ticker string, at time.Time, tolerance time.Duration) (*models.PricePoint, error) {
	query := `
		SELECT ts, ticker, close, volume
		FROM market_bars FINAL
		WHERE ticker = ? AND bar_interval = ?
			AND ts <= ? AND ts >= ?
		ORDER BY ts DESC
		LIMIT 1
	`
	row := r.ch.QueryRowxContext(ctx, query, strings.ToUpper(ticker), r.interval, at.UTC(), at.Add(-tolerance).UTC())
	return scanPoint(row, ticker, at)
}

// Nearest returns the bar closest to at, within ±tolerance
func (r *Repository) Nearest(ctx context.Context, ticker string, at time.Time, tolerance time.Duration) (*models.PricePoint, error) {
	query := `
		SELECT ts, ticker, close, volume
		FROM market_bars FINAL
		WHERE ticker = ? AND bar_interval = ?
			AND ts >= ? AND ts <= ?
		ORDER BY abs(dateDiff('second', ts, toDateTime64(?, 3, 'UTC'))), ts DESC
		LIMIT 1
	`
	row := r.ch.QueryRowxContext(ctx, query,
		strings.ToUpper(ticker), r.interval, at.Add(-tolerance).UTC(), at.Add(tolerance).UTC(), at.UTC(),
	)
	return scanPoint(row, ticker, at)
}

// BarCount returns number of stored bars for ticker
func (r *Repository) BarCount(ctx context.Context, ticker string) (int, error) {
	var count uint64
	err := r.ch.GetContext(ctx, &count, `
		SELECT count()
		FROM market_bars
		WHERE ticker = ? AND bar_interval = ?
	`, strings.ToUpper(ticker), r.interval)
	return int(count), err
}

func scanPoint(row *sqlx.Row, ticker string, at time.Time) (*models.PricePoint, error) {
	var p models.PricePoint
	var closePrice, volume float64

	err := row.Scan(&p.Timestamp, &p.Ticker, &closePrice, &volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no %s bar near %s", models.ErrInsufficientPriceData, ticker, at.UTC().Format(time.RFC3339))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bar from ClickHouse: %w", err)
	}

	p.Price = decimal.NewFromFloat(closePrice)
	p.Volume = decimal.NewFromFloat(volume)
	return &p, nil
}
