package price

import (
	"context"
	"time"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Feed answers point-in-time price questions for the impact correlator.
// Both methods return models.ErrInsufficientPriceData when no bar lies within tolerance.
type Feed interface {
	// AtOrBefore returns the latest observation at or before at, no older than at-tolerance
	AtOrBefore(ctx context.Context, ticker string, at time.Time, tolerance time.Duration) (*models.PricePoint, error)

	// Nearest returns the observation closest to at within ±tolerance
	Nearest(ctx context.Context, ticker string, at time.Time, tolerance time.Duration) (*models.PricePoint, error)
}

// Store persists bars pulled by the price worker
type Store interface {
	SaveBars(ctx context.Context, bars []models.PriceBar) (int, error)
}

// BarSource pulls intraday bars from an external provider
type BarSource interface {
	Name() string
	FetchBars(ctx context.Context, ticker string) ([]models.PriceBar, error)
}
