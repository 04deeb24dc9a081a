package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// ProcessingStatus is the scoring state of an article
type ProcessingStatus string

const (
	StatusUnscored      ProcessingStatus = "unscored"
	StatusScoring       ProcessingStatus = "scoring"
	StatusScored        ProcessingStatus = "scored"
	StatusScoringFailed ProcessingStatus = "scoring_failed"
)

// RawArticle is the provider-neutral shape every news provider maps into
type RawArticle struct {
	PublishedAt time.Time       `json:"published_at"`
	Provider    string          `json:"provider"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	Body        string          `json:"body"`
	Source      string          `json:"source"`
	Author      string          `json:"author,omitempty"`
	Ticker      string          `json:"ticker,omitempty"`
	CompanyName string          `json:"company_name,omitempty"`
	Sector      string          `json:"sector,omitempty"`
	Industry    string          `json:"industry,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Article is the stored, deduplicated unit of scoring
type Article struct {
	PublishedAt        time.Time        `json:"published_at" db:"published_at"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
	ClaimedAt          *time.Time       `json:"-" db:"claimed_at"`
	Author             *string          `json:"author,omitempty" db:"author"`
	Ticker             *string          `json:"ticker,omitempty" db:"ticker"`
	CompanyName        *string          `json:"company_name,omitempty" db:"company_name"`
	Sector             *string          `json:"sector,omitempty" db:"sector"`
	Industry           *string          `json:"industry,omitempty" db:"industry"`
	SentimentScore     *float64         `json:"sentiment_score,omitempty" db:"sentiment_score"`
	SentimentLabel     *SentimentLabel  `json:"sentiment_label,omitempty" db:"sentiment_label"`
	ConfidenceScore    *float64         `json:"confidence_score,omitempty" db:"confidence_score"`
	ModelAgreement     *float64         `json:"model_agreement,omitempty" db:"model_agreement"`
	Interpretation     *string          `json:"interpretation,omitempty" db:"interpretation"`
	MarketImpactScore  *float64         `json:"market_impact_score,omitempty" db:"market_impact_score"`
	ContentEmbedding   *pgvector.Vector `json:"-" db:"content_embedding"`
	SentimentEmbedding *pgvector.Vector `json:"-" db:"sentiment_embedding"`
	EmbeddingModel     *string          `json:"embedding_model,omitempty" db:"embedding_model"`
	LastError          *string          `json:"last_error,omitempty" db:"last_error"`
	Entities           Entities         `json:"entities,omitempty" db:"entities"`
	DedupKey           string           `json:"dedup_key" db:"dedup_key"`
	Title              string           `json:"title" db:"title"`
	Body               string           `json:"body" db:"body"`
	URL                string           `json:"url" db:"url"`
	Source             string           `json:"source" db:"source"`
	Status             ProcessingStatus `json:"processing_status" db:"processing_status"`
	RawPayload         json.RawMessage  `json:"-" db:"raw_payload"`
	Keywords           pq.StringArray   `json:"keywords" db:"keywords"`
	ScoringAttempts    int              `json:"scoring_attempts" db:"scoring_attempts"`
	ID                 uuid.UUID        `json:"id" db:"id"`
	IsProcessed        bool             `json:"is_processed" db:"is_processed"`
	IsArchived         bool             `json:"is_archived" db:"is_archived"`
}

// Text returns the text that scoring and embedding operate on
func (a *Article) Text() string {
	if a.Body == "" {
		return a.Title
	}
	return a.Title + ". " + a.Body
}

// TickerSymbol returns the article ticker or empty string
func (a *Article) TickerSymbol() string {
	if a.Ticker == nil {
		return ""
	}
	return *a.Ticker
}

// Entities maps a named entity to its type, stored as JSONB
type Entities map[string]string

func (e Entities) Value() (driver.Value, error) {
	if e == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e)
}

func (e *Entities) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*e = Entities{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported entities type %T", src)
	}
	out := Entities{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode entities: %w", err)
	}
	*e = out
	return nil
}

// IngestResult summarizes one ingest call
type IngestResult struct {
	InsertedIDs      []uuid.UUID `json:"inserted_ids,omitempty"`
	Inserted         int         `json:"inserted"`
	SkippedDuplicate int         `json:"skipped_duplicate"`
	RejectedInvalid  int         `json:"rejected_invalid"`
	// Scored counts inserted articles that were scored in the same run
	Scored int `json:"scored"`
}

// Add merges another result into r
func (r *IngestResult) Add(other IngestResult) {
	r.Inserted += other.Inserted
	r.SkippedDuplicate += other.SkippedDuplicate
	r.RejectedInvalid += other.RejectedInvalid
	r.InsertedIDs = append(r.InsertedIDs, other.InsertedIDs...)
}

// FetchParams are the provider parameters of a fetch-and-process run
type FetchParams struct {
	Tickers []string `json:"tickers,omitempty"`
	Topics  []string `json:"topics,omitempty"`
	Limit   int      `json:"limit"`
}
