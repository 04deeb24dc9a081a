package models

import (
	"time"

	"github.com/google/uuid"
)

// SentimentLabel is the five-bucket sentiment classification
type SentimentLabel string

const (
	LabelStronglyNegative SentimentLabel = "strongly_negative"
	LabelNegative         SentimentLabel = "negative"
	LabelNeutral          SentimentLabel = "neutral"
	LabelPositive         SentimentLabel = "positive"
	LabelStronglyPositive SentimentLabel = "strongly_positive"
)

// Polarity collapses a label into positive/negative/neutral
func (l SentimentLabel) Polarity() string {
	switch l {
	case LabelStronglyPositive, LabelPositive:
		return "positive"
	case LabelStronglyNegative, LabelNegative:
		return "negative"
	default:
		return "neutral"
	}
}

const (
	AnalysisTypeMember = "ensemble-member"
	AnalysisTypeFinal  = "ensemble-final"
)

// MemberResult is the outcome of one ensemble member for one attempt
type MemberResult struct {
	Err        error         `json:"-"`
	Model      string        `json:"model"`
	Reasoning  string        `json:"reasoning,omitempty"`
	Score      float64       `json:"score"`
	Confidence float64       `json:"confidence"`
	Latency    time.Duration `json:"latency"`
	Attempts   int           `json:"attempts"`
	Succeeded  bool          `json:"succeeded"`
}

// EnsembleResult is the combined output of the scorer
type EnsembleResult struct {
	Members        []MemberResult `json:"member_results"`
	Label          SentimentLabel `json:"label"`
	Interpretation string         `json:"interpretation"`
	Version        string         `json:"ensemble_version"`
	Score          float64        `json:"score"`
	Confidence     float64        `json:"confidence"`
	// Agreement is nil unless both members succeeded
	Agreement *float64 `json:"model_agreement,omitempty"`
	Degraded  bool     `json:"degraded"`
}

// SucceededMembers returns how many members produced a score
func (r *EnsembleResult) SucceededMembers() int {
	n := 0
	for _, m := range r.Members {
		if m.Succeeded {
			n++
		}
	}
	return n
}

// SentimentAnalysis is one append-only scoring fact
type SentimentAnalysis struct {
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	Score           *float64        `json:"score,omitempty" db:"score"`
	Label           *SentimentLabel `json:"label,omitempty" db:"label"`
	Confidence      *float64        `json:"confidence,omitempty" db:"confidence"`
	ErrorMessage    *string         `json:"error,omitempty" db:"error_message"`
	Reasoning       *string         `json:"reasoning,omitempty" db:"reasoning"`
	ModelID         string          `json:"model_id" db:"model_id"`
	AnalysisType    string          `json:"analysis_type" db:"analysis_type"`
	EnsembleVersion string          `json:"ensemble_version" db:"ensemble_version"`
	Embedding       []float32       `json:"-" db:"-"`
	LatencyMs       int64           `json:"latency_ms" db:"latency_ms"`
	ID              uuid.UUID       `json:"id" db:"id"`
	ArticleID       uuid.UUID       `json:"article_id" db:"article_id"`
	Succeeded       bool            `json:"succeeded" db:"succeeded"`
}

// NewMemberAnalysis converts a member outcome into its fact record
func NewMemberAnalysis(articleID uuid.UUID, version string, m MemberResult, label func(float64) SentimentLabel) SentimentAnalysis {
	a := SentimentAnalysis{
		ID:              uuid.New(),
		ArticleID:       articleID,
		ModelID:         m.Model,
		AnalysisType:    AnalysisTypeMember,
		EnsembleVersion: version,
		LatencyMs:       m.Latency.Milliseconds(),
		Succeeded:       m.Succeeded,
		CreatedAt:       time.Now().UTC(),
	}
	if m.Succeeded {
		score, conf := m.Score, m.Confidence
		l := label(score)
		a.Score, a.Confidence, a.Label = &score, &conf, &l
		if m.Reasoning != "" {
			reasoning := m.Reasoning
			a.Reasoning = &reasoning
		}
	} else if m.Err != nil {
		msg := m.Err.Error()
		a.ErrorMessage = &msg
	}
	return a
}

// NewFinalAnalysis builds the ensemble-final fact for a result
func NewFinalAnalysis(articleID uuid.UUID, r *EnsembleResult) SentimentAnalysis {
	score, conf, label := r.Score, r.Confidence, r.Label
	interp := r.Interpretation
	return SentimentAnalysis{
		ID:              uuid.New(),
		ArticleID:       articleID,
		ModelID:         "ensemble",
		AnalysisType:    AnalysisTypeFinal,
		EnsembleVersion: r.Version,
		Score:           &score,
		Confidence:      &conf,
		Label:           &label,
		Reasoning:       &interp,
		Succeeded:       true,
		CreatedAt:       time.Now().UTC(),
	}
}

// ScoringInput is what an ensemble member sees of an article
type ScoringInput struct {
	Text    string
	Ticker  string
	Company string
	Source  string
}

// Classification is the raw output of one sentiment model
type Classification struct {
	Label      string  `json:"sentiment_label"`
	Reasoning  string  `json:"reasoning"`
	Score      float64 `json:"sentiment_score"`
	Confidence float64 `json:"confidence_score"`
}
