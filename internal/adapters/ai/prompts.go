package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/selivandex/newsimpact/pkg/models"
	"github.com/selivandex/newsimpact/pkg/templates"
)

// SentimentTemplate is the prompt every hosted member renders
const SentimentTemplate = "sentiment.tmpl"

var codeFence = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// BuildSentimentPrompt renders the sentiment template into system and user prompts
func BuildSentimentPrompt(r templates.Renderer, in *models.ScoringInput, maxChars int) (systemPrompt string, userPrompt string, err error) {
	if r == nil {
		return "", "", fmt.Errorf("templates not loaded")
	}

	data := map[string]interface{}{
		"Text":     in.Text,
		"Ticker":   in.Ticker,
		"Company":  in.Company,
		"Source":   in.Source,
		"MaxChars": maxChars,
	}

	output, err := r.ExecuteTemplate(SentimentTemplate, data)
	if err != nil {
		return "", "", err
	}

	systemPrompt, userPrompt = templates.SplitPrompt(output)
	return systemPrompt, userPrompt, nil
}

// parseClassification decodes the model's JSON answer.
// Scores outside [-1, 1] are rejected, confidence is clamped to [0, 1].
func parseClassification(content string) (*models.Classification, error) {
	jsonStr := extractJSON(content)

	var out struct {
		Score      *float64 `json:"sentiment_score"`
		Confidence *float64 `json:"confidence_score"`
		Label      string   `json:"sentiment_label"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w (content: %s)", err, jsonStr)
	}

	if out.Score == nil || math.IsNaN(*out.Score) {
		return nil, fmt.Errorf("response has no sentiment_score")
	}
	if *out.Score < -1 || *out.Score > 1 {
		return nil, fmt.Errorf("sentiment_score %.3f out of range", *out.Score)
	}

	confidence := 0.5
	if out.Confidence != nil && !math.IsNaN(*out.Confidence) {
		confidence = math.Max(0, math.Min(1, *out.Confidence))
	}

	return &models.Classification{
		Score:      *out.Score,
		Confidence: confidence,
		Label:      strings.ToLower(strings.TrimSpace(out.Label)),
		Reasoning:  strings.TrimSpace(out.Reasoning),
	}, nil
}

// extractJSON extracts JSON from text that might contain markdown or extra content
func extractJSON(text string) string {
	if matches := codeFence.FindStringSubmatch(text); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}

	return strings.TrimSpace(text)
}
