package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
	"github.com/selivandex/newsimpact/pkg/templates"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// OpenAIClassifier scores sentiment with any OpenAI-compatible chat endpoint (OpenAI, DeepSeek)
type OpenAIClassifier struct {
	client      *openai.Client
	limiter     *rate.Limiter
	renderer    templates.Renderer
	model       string
	maxChars    int
	temperature float32
	enabled     bool
}

// NewOpenAIClassifier creates a classifier; an empty baseURL means api.openai.com
func NewOpenAIClassifier(apiKey, baseURL, model string, temperature float32, renderer templates.Renderer, limiter *rate.Limiter, maxChars int) *OpenAIClassifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	return &OpenAIClassifier{
		client:      openai.NewClientWithConfig(cfg),
		limiter:     limiter,
		renderer:    renderer,
		model:       model,
		maxChars:    maxChars,
		temperature: temperature,
		enabled:     apiKey != "",
	}
}

func (o *OpenAIClassifier) Name() string {
	return o.model
}

func (o *OpenAIClassifier) IsEnabled() bool {
	return o.enabled
}

func (o *OpenAIClassifier) Classify(ctx context.Context, in *models.ScoringInput) (*models.Classification, error) {
	systemPrompt, userPrompt, err := BuildSentimentPrompt(o.renderer, in, o.maxChars)
	if err != nil {
		return nil, err
	}

	if err := waitLimiter(ctx, o.limiter, o.model); err != nil {
		return nil, err
	}

	startTime := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: o.temperature,
		MaxTokens:   200,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content

	logger.Debug("llm sentiment response",
		zap.String("model", o.model),
		zap.Duration("latency", time.Since(startTime)),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)

	result, err := parseClassification(content)
	if err != nil {
		// a malformed answer will not improve on retry
		return nil, retry.Stop(fmt.Errorf("failed to parse sentiment response: %w", err))
	}
	return result, nil
}
