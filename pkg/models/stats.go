package models

import (
	"time"

	"github.com/google/uuid"
)

// TickerCount is one entry of the top-tickers projection
type TickerCount struct {
	Ticker string `json:"ticker" db:"ticker"`
	Count  int    `json:"count" db:"count"`
}

// Stats is the summary statistics projection
type Stats struct {
	TopTickers        []TickerCount `json:"top_tickers"`
	TotalArticles     int           `json:"total_articles"`
	ProcessedArticles int           `json:"processed_articles"`
	ProcessingRate    float64       `json:"processing_rate"`
	AverageSentiment  float64       `json:"average_sentiment"`
	WindowHours       int           `json:"window_hours"`
}

// Distribution counts articles per polarity
type Distribution struct {
	Positive int `json:"positive" db:"positive"`
	Negative int `json:"negative" db:"negative"`
	Neutral  int `json:"neutral" db:"neutral"`
}

// TrendPoint is one point of the sentiment-trend view
type TrendPoint struct {
	Timestamp      time.Time       `json:"timestamp" db:"published_at"`
	ArticleID      *uuid.UUID      `json:"article_id,omitempty" db:"id"`
	Title          string          `json:"title,omitempty" db:"title"`
	Ticker         *string         `json:"ticker,omitempty" db:"ticker"`
	Label          *SentimentLabel `json:"label,omitempty" db:"sentiment_label"`
	SentimentScore float64         `json:"sentiment_score" db:"sentiment_score"`
	Confidence     float64         `json:"confidence" db:"confidence_score"`
	Count          int             `json:"count,omitempty" db:"count"`
}

// TrendBucket is an hourly aggregate of trend points
type TrendBucket struct {
	Hour             time.Time `json:"hour" db:"hour"`
	AverageSentiment float64   `json:"average_sentiment" db:"average_sentiment"`
	Count            int       `json:"count" db:"count"`
}

// TrendSummary summarizes a trend window
type TrendSummary struct {
	Distribution     Distribution `json:"distribution"`
	Total            int          `json:"total"`
	AverageSentiment float64      `json:"average_sentiment"`
}

// SentimentTrends is the response of the sentiment-trends view
type SentimentTrends struct {
	Points  []TrendPoint  `json:"trend_points"`
	Buckets []TrendBucket `json:"hourly"`
	Summary TrendSummary  `json:"summary"`
	Ticker  string        `json:"ticker,omitempty"`
	Hours   int           `json:"hours"`
}

// SimilarArticle is one ranked similarity-search hit
type SimilarArticle struct {
	Article    Article `json:"article"`
	Similarity float64 `json:"similarity_score"`
}

// ReprocessResult is returned by the binary-score reprocessing job
type ReprocessResult struct {
	ModelUsed string `json:"model_used"`
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
	Remaining int    `json:"remaining"`
}
