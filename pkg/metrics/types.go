package metrics

import "time"

// ScoringMetric records one ensemble member or final scoring attempt
type ScoringMetric struct {
	Timestamp  time.Time
	ArticleID  string
	Model      string
	Kind       string // member or final
	Score      float64
	Confidence float64
	LatencyMs  int64
	Attempts   int
	Succeeded  bool
}

func (m *ScoringMetric) TableName() string {
	return "scoring_metrics"
}

func (m *ScoringMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.ArticleID,
		m.Model,
		m.Kind,
		m.Score,
		m.Confidence,
		m.LatencyMs,
		m.Attempts,
		m.Succeeded,
	}
}

// IngestMetric records the outcome of one ingest batch
type IngestMetric struct {
	Timestamp        time.Time
	Provider         string
	Fetched          int
	Inserted         int
	SkippedDuplicate int
	RejectedInvalid  int
	DurationMs       int64
}

func (m *IngestMetric) TableName() string {
	return "ingest_metrics"
}

func (m *IngestMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.Provider,
		m.Fetched,
		m.Inserted,
		m.SkippedDuplicate,
		m.RejectedInvalid,
		m.DurationMs,
	}
}

// EmbeddingCacheMetric tracks embedding cache hits and misses
type EmbeddingCacheMetric struct {
	Timestamp  time.Time
	TextHash   string
	Model      string
	TextLength int
	CacheHit   bool
}

func (m *EmbeddingCacheMetric) TableName() string {
	return "embedding_cache_metrics"
}

func (m *EmbeddingCacheMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.TextHash,
		m.TextLength,
		m.Model,
		m.CacheHit,
	}
}

// ImpactMetric records one market-impact computation
type ImpactMetric struct {
	Timestamp      time.Time
	ArticleID      string
	Ticker         string
	WindowHours    int
	PriceChangePct float64
	ImpactScore    float64
}

func (m *ImpactMetric) TableName() string {
	return "impact_metrics"
}

func (m *ImpactMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.ArticleID,
		m.Ticker,
		m.WindowHours,
		m.PriceChangePct,
		m.ImpactScore,
	}
}
