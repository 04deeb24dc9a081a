package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricePoint is one observation from the price feed
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp" db:"ts"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Price     decimal.Decimal `json:"price" db:"close"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
}

// PriceBar is an OHLCV bar as stored in the time-series store
type PriceBar struct {
	Timestamp time.Time       `db:"ts"`
	Ticker    string          `db:"ticker"`
	Interval  string          `db:"bar_interval"`
	Open      decimal.Decimal `db:"open"`
	High      decimal.Decimal `db:"high"`
	Low       decimal.Decimal `db:"low"`
	Close     decimal.Decimal `db:"close"`
	Volume    decimal.Decimal `db:"volume"`
}

// Point reduces a bar to the close/volume observation
func (b PriceBar) Point() PricePoint {
	return PricePoint{Timestamp: b.Timestamp, Ticker: b.Ticker, Price: b.Close, Volume: b.Volume}
}

// MarketImpact is one (article, ticker, window) measurement
type MarketImpact struct {
	MeasuredAt      time.Time           `json:"measured_at" db:"measured_at"`
	PriceBefore     decimal.NullDecimal `json:"price_before" db:"price_before"`
	PriceAfter      decimal.NullDecimal `json:"price_after" db:"price_after"`
	PriceChangePct  *float64            `json:"price_change_pct,omitempty" db:"price_change_pct"`
	VolumeChangePct *float64            `json:"volume_change_pct,omitempty" db:"volume_change_pct"`
	Ticker          string              `json:"ticker" db:"ticker"`
	SentimentScore  float64             `json:"sentiment_score" db:"sentiment_score"`
	CorrelationCoef float64             `json:"correlation_coefficient" db:"correlation_coefficient"`
	ImpactScore     float64             `json:"impact_score" db:"impact_score"`
	WindowHours     int                 `json:"impact_window_hours" db:"window_hours"`
	ID              uuid.UUID           `json:"id" db:"id"`
	ArticleID       uuid.UUID           `json:"article_id" db:"article_id"`
}

// TickerCorrelation is the Pearson coefficient across all impacts of one ticker and window
type TickerCorrelation struct {
	CalculatedAt time.Time `json:"calculated_at"`
	Ticker       string    `json:"ticker"`
	Coefficient  float64   `json:"coefficient"`
	WindowHours  int       `json:"window_hours"`
	SampleSize   int       `json:"sample_size"`
}
