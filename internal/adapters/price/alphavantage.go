package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"github.com/selivandex/newsimpact/internal/adapters/alphavantage"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
)

const avBarLayout = "2006-01-02 15:04:05"

// AlphaVantageSource pulls TIME_SERIES_INTRADAY bars
type AlphaVantageSource struct {
	client   *alphavantage.Client
	policy   retry.Policy
	interval string
}

// NewAlphaVantageSource creates a source for one bar interval (1min, 5min, 15min, 30min, 60min)
func NewAlphaVantageSource(client *alphavantage.Client, interval string, maxAttempts int) *AlphaVantageSource {
	policy := retry.Default("alphavantage-intraday")
	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}
	return &AlphaVantageSource{client: client, policy: policy, interval: interval}
}

func (s *AlphaVantageSource) Name() string { return "alphavantage" }

type avBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// FetchBars returns the compact intraday series for ticker, oldest first
func (s *AlphaVantageSource) FetchBars(ctx context.Context, ticker string) ([]models.PriceBar, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(ticker))
	q.Set("interval", s.interval)
	q.Set("outputsize", "compact")

	var body map[string]json.RawMessage
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		var err error
		body, err = s.client.Query(ctx, "TIME_SERIES_INTRADAY", q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("intraday %s: %w", ticker, err)
	}

	return parseIntraday(body, ticker, s.interval)
}

func parseIntraday(body map[string]json.RawMessage, ticker, interval string) ([]models.PriceBar, error) {
	loc := time.UTC
	if raw, ok := body["Meta Data"]; ok {
		var meta map[string]string
		if err := json.Unmarshal(raw, &meta); err == nil {
			for k, v := range meta {
				if strings.HasSuffix(k, "Time Zone") {
					if l, err := time.LoadLocation(mapTimeZone(v)); err == nil {
						loc = l
					}
				}
			}
		}
	}

	raw, ok := body[fmt.Sprintf("Time Series (%s)", interval)]
	if !ok {
		return nil, fmt.Errorf("intraday %s: response has no %s series", ticker, interval)
	}

	var series map[string]avBar
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("intraday %s: failed to decode series: %w", ticker, err)
	}

	bars := make([]models.PriceBar, 0, len(series))
	for ts, b := range series {
		at, err := time.ParseInLocation(avBarLayout, ts, loc)
		if err != nil {
			continue
		}
		bar := models.PriceBar{Timestamp: at.UTC(), Ticker: strings.ToUpper(ticker), Interval: interval}
		var perr error
		if bar.Open, perr = decimal.NewFromString(b.Open); perr != nil {
			continue
		}
		if bar.High, perr = decimal.NewFromString(b.High); perr != nil {
			continue
		}
		if bar.Low, perr = decimal.NewFromString(b.Low); perr != nil {
			continue
		}
		if bar.Close, perr = decimal.NewFromString(b.Close); perr != nil {
			continue
		}
		if bar.Volume, perr = decimal.NewFromString(b.Volume); perr != nil {
			bar.Volume = decimal.Zero
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

func mapTimeZone(tz string) string {
	if tz == "US/Eastern" {
		return "America/New_York"
	}
	return tz
}
