package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/retry"
	"github.com/selivandex/newsimpact/pkg/templates"
)

const claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeClassifier scores sentiment with the Anthropic messages API
type ClaudeClassifier struct {
	client      *http.Client
	limiter     *rate.Limiter
	renderer    templates.Renderer
	apiURL      string
	apiKey      string
	model       string
	maxChars    int
	temperature float32
}

func NewClaudeClassifier(apiKey, model string, temperature float32, renderer templates.Renderer, limiter *rate.Limiter, maxChars int) *ClaudeClassifier {
	return &ClaudeClassifier{
		apiURL:      claudeAPIURL,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		renderer:    renderer,
		limiter:     limiter,
		maxChars:    maxChars,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ClaudeClassifier) Name() string {
	return c.model
}

func (c *ClaudeClassifier) IsEnabled() bool {
	return c.apiKey != ""
}

func (c *ClaudeClassifier) Classify(ctx context.Context, in *models.ScoringInput) (*models.Classification, error) {
	systemPrompt, userPrompt, err := BuildSentimentPrompt(c.renderer, in, c.maxChars)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"model":       c.model,
		"max_tokens":  200,
		"system":      systemPrompt,
		"temperature": c.temperature,
		"messages": []map[string]string{
			{"role": "user", "content": userPrompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := waitLimiter(ctx, c.limiter, c.model); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	startTime := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, body)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	content := result.Content[0].Text

	logger.Debug("Claude response",
		zap.Duration("latency", time.Since(startTime)),
		zap.String("response", content),
	)

	classification, err := parseClassification(content)
	if err != nil {
		// a malformed answer will not improve on retry
		return nil, retry.Stop(fmt.Errorf("failed to parse sentiment response: %w", err))
	}
	return classification, nil
}
