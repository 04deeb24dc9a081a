package price

import (
	"encoding/json"
	"testing"
)

const intradayFixture = `{
	"Meta Data": {
		"1. Information": "Intraday (15min) open, high, low, close prices and volume",
		"2. Symbol": "IBM",
		"6. Time Zone": "US/Eastern"
	},
	"Time Series (15min)": {
		"2024-01-02 10:15:00": {"1. open": "161.10", "2. high": "161.50", "3. low": "160.90", "4. close": "161.40", "5. volume": "12000"},
		"2024-01-02 10:00:00": {"1. open": "160.00", "2. high": "161.20", "3. low": "159.80", "4. close": "161.10", "5. volume": "15000"},
		"garbage": {"1. open": "x"}
	}
}`

func TestParseIntraday(t *testing.T) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(intradayFixture), &body); err != nil {
		t.Fatal(err)
	}

	bars, err := parseIntraday(body, "ibm", "15min")
	if err != nil {
		t.Fatalf("parseIntraday() error = %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len = %d, want 2", len(bars))
	}

	if !bars[0].Timestamp.Before(bars[1].Timestamp) {
		t.Error("bars should be ordered oldest first")
	}
	// 10:00 US/Eastern in January is 15:00 UTC
	if got := bars[0].Timestamp.Hour(); got != 15 {
		t.Errorf("first bar hour (UTC) = %d, want 15", got)
	}
	if bars[0].Ticker != "IBM" || bars[0].Interval != "15min" {
		t.Errorf("bar = %+v", bars[0])
	}
	if bars[1].Close.String() != "161.4" {
		t.Errorf("close = %s, want 161.4", bars[1].Close)
	}
}

func TestParseIntradayMissingSeries(t *testing.T) {
	body := map[string]json.RawMessage{"Meta Data": json.RawMessage(`{}`)}
	_, err := parseIntraday(body, "IBM", "5min")
	if err == nil {
		t.Fatal("expected error for missing series")
	}
}
