package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/selivandex/newsimpact/internal/adapters/config"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
	"github.com/selivandex/newsimpact/pkg/templates"
)

// Classifier is a hosted model that scores the sentiment of one article
type Classifier interface {
	Classify(ctx context.Context, in *models.ScoringInput) (*models.Classification, error)

	// Name returns the model identifier recorded on analysis rows
	Name() string

	IsEnabled() bool
}

// New builds the hosted classifier selected by cfg.Provider.
// Provider "none" returns a disabled classifier.
func New(cfg *config.LLMConfig, renderer templates.Renderer, maxChars int) (Classifier, error) {
	limiter := newLimiter(cfg.RequestsPerMin)

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIClassifier(cfg.APIKey, cfg.BaseURL, cfg.LLMModel(), cfg.Temperature, renderer, limiter, maxChars), nil
	case "deepseek":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = deepseekBaseURL
		}
		return NewOpenAIClassifier(cfg.APIKey, baseURL, cfg.LLMModel(), cfg.Temperature, renderer, limiter, maxChars), nil
	case "claude":
		return NewClaudeClassifier(cfg.APIKey, cfg.LLMModel(), cfg.Temperature, renderer, limiter, maxChars), nil
	case "none":
		return disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// newLimiter converts requests per minute into a token bucket; zero disables limiting
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perMinute / 60)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}

func waitLimiter(ctx context.Context, l *rate.Limiter, provider string) error {
	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w", provider, err)
	}
	if waited := time.Since(start); waited > time.Second {
		logger.Debug("llm request delayed by rate limiter",
			zap.String("provider", provider),
			zap.Duration("waited", waited),
		)
	}
	return nil
}

// statusError turns a non-2xx response into an error the retry loop can classify
func statusError(code int, body []byte) error {
	err := &retry.StatusError{Code: code, Body: string(body)}
	if code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusBadRequest {
		return retry.Stop(err)
	}
	return err
}

type disabled struct{}

func (disabled) Classify(context.Context, *models.ScoringInput) (*models.Classification, error) {
	return nil, fmt.Errorf("no hosted llm configured")
}

func (disabled) Name() string    { return "none" }
func (disabled) IsEnabled() bool { return false }
