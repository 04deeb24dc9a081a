package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/selivandex/newsimpact/internal/adapters/config"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
	"github.com/selivandex/newsimpact/pkg/templates"
	prompttmpl "github.com/selivandex/newsimpact/templates"
)

func loadTemplates(t *testing.T) *templates.Manager {
	t.Helper()
	logger.InitNop()

	m, err := templates.NewManagerFS(prompttmpl.FS)
	if err != nil {
		t.Fatalf("Failed to load templates: %v", err)
	}
	if err := m.Require(SentimentTemplate); err != nil {
		t.Fatalf("%v", err)
	}
	return m
}

func TestBuildSentimentPrompt(t *testing.T) {
	m := loadTemplates(t)

	in := &models.ScoringInput{
		Text:    strings.Repeat("Apple beats earnings estimates. ", 40),
		Ticker:  "AAPL",
		Company: "Apple Inc",
		Source:  "Reuters",
	}

	system, user, err := BuildSentimentPrompt(m, in, 64)
	if err != nil {
		t.Fatalf("BuildSentimentPrompt() error = %v", err)
	}

	if !strings.Contains(system, "sentiment_score") {
		t.Errorf("system prompt should describe the response shape, got %q", system)
	}
	if strings.Contains(system, "AAPL") {
		t.Errorf("system prompt should not carry article data")
	}
	if !strings.Contains(user, "Ticker: AAPL (Apple Inc)") {
		t.Errorf("user prompt missing ticker line: %q", user)
	}
	if !strings.Contains(user, "Source: Reuters") {
		t.Errorf("user prompt missing source line: %q", user)
	}
	if strings.Count(user, "Apple beats") > 3 {
		t.Errorf("article text was not truncated: %q", user)
	}
}

func TestBuildSentimentPromptWithoutRenderer(t *testing.T) {
	if _, _, err := BuildSentimentPrompt(nil, &models.ScoringInput{Text: "x"}, 10); err == nil {
		t.Error("expected error without templates")
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantScore float64
		wantConf  float64
		wantErr   bool
	}{
		{
			name:      "plain json",
			content:   `{"sentiment_score": 0.6, "sentiment_label": "Positive", "confidence_score": 0.9, "reasoning": "beat"}`,
			wantScore: 0.6,
			wantConf:  0.9,
		},
		{
			name:      "markdown fenced",
			content:   "Here you go:\n```json\n{\"sentiment_score\": -0.4, \"confidence_score\": 0.7}\n```",
			wantScore: -0.4,
			wantConf:  0.7,
		},
		{
			name:      "prose around object",
			content:   `The answer is {"sentiment_score": 0.1, "confidence_score": 1.4} as requested.`,
			wantScore: 0.1,
			wantConf:  1,
		},
		{
			name:      "missing confidence defaults",
			content:   `{"sentiment_score": 0}`,
			wantScore: 0,
			wantConf:  0.5,
		},
		{
			name:    "score out of range",
			content: `{"sentiment_score": 3, "confidence_score": 0.5}`,
			wantErr: true,
		},
		{
			name:    "no score",
			content: `{"sentiment_label": "neutral"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			content: "I cannot help with that",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClassification(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestClaudeClassifierClassify(t *testing.T) {
	m := loadTemplates(t)

	var gotKey, gotVersion string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"sentiment_score\":0.8,\"confidence_score\":0.9,\"sentiment_label\":\"strongly_positive\"}"}]}`))
	}))
	defer srv.Close()

	c := NewClaudeClassifier("key", "claude-test", 0.1, m, rate.NewLimiter(rate.Inf, 1), 512)
	c.apiURL = srv.URL

	got, err := c.Classify(context.Background(), &models.ScoringInput{Text: "Record quarter", Ticker: "AAPL"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Score != 0.8 || got.Confidence != 0.9 {
		t.Errorf("Classify() = %+v", got)
	}
	if gotKey != "key" || gotVersion != "2023-06-01" {
		t.Errorf("headers = %q, %q", gotKey, gotVersion)
	}
	if gotBody["model"] != "claude-test" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["system"] == "" {
		t.Error("system prompt not sent")
	}
}

func TestClaudeClassifierMalformedAnswerIsPermanent(t *testing.T) {
	m := loadTemplates(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"The 500 job cuts follow a timeout of the CEO"}]}`))
	}))
	defer srv.Close()

	c := NewClaudeClassifier("key", "claude-test", 0.1, m, rate.NewLimiter(rate.Inf, 1), 512)
	c.apiURL = srv.URL

	policy := retry.Policy{Name: "claude", MaxAttempts: 3, BaseDelay: time.Millisecond}
	attempts, err := retry.Do(context.Background(), policy, func(ctx context.Context) error {
		_, err := c.Classify(ctx, &models.ScoringInput{Text: "x"})
		return err
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want a single call", attempts, calls)
	}
}

func TestClaudeClassifierStatusErrors(t *testing.T) {
	m := loadTemplates(t)

	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"rate limited", http.StatusTooManyRequests, false},
		{"overloaded", 529, false},
		{"unauthorized", http.StatusUnauthorized, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClaudeClassifier("key", "claude-test", 0.1, m, rate.NewLimiter(rate.Inf, 1), 512)
			c.apiURL = srv.URL

			_, err := c.Classify(context.Background(), &models.ScoringInput{Text: "x"})
			if err == nil {
				t.Fatal("expected error")
			}

			var perm *retry.Permanent
			if errors.As(err, &perm) != tt.permanent {
				t.Errorf("permanent = %v, want %v (err %v)", !tt.permanent, tt.permanent, err)
			}
			if !tt.permanent && !retry.IsRetryable(err) {
				t.Errorf("status %d should be retryable", tt.status)
			}
		})
	}
}

func TestNewDisabledProvider(t *testing.T) {
	c, err := New(&config.LLMConfig{Provider: "none"}, nil, 512)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.IsEnabled() {
		t.Error("provider none should be disabled")
	}
}
