package sentiment

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Label derives the five-bucket label from a final score
func Label(score float64) models.SentimentLabel {
	switch {
	case score >= 0.5:
		return models.LabelStronglyPositive
	case score >= 0.1:
		return models.LabelPositive
	case score > -0.1:
		return models.LabelNeutral
	case score > -0.5:
		return models.LabelNegative
	default:
		return models.LabelStronglyNegative
	}
}

// Agreement is 1 for identical member scores and 0 for opposite extremes
func Agreement(a, b float64) float64 {
	return 1 - math.Abs(a-b)/2
}

// Interpret renders a short human reading of a result.
// A nil agreement (single member) always reads as low confidence.
func Interpret(score float64, agreement *float64) string {
	var direction string
	switch {
	case score >= 0.4:
		direction = "Very positive"
	case score > 0.15:
		direction = "Positive"
	case score <= -0.4:
		direction = "Very negative"
	case score < -0.15:
		direction = "Negative"
	default:
		direction = "Neutral"
	}

	strength := math.Abs(score)
	level := "low"
	if agreement != nil {
		switch {
		case strength > 0.6 && *agreement > 0.8:
			level = "high"
		case strength > 0.3 && *agreement > 0.6:
			level = "moderate"
		}
	}

	return fmt.Sprintf("%s sentiment with %s confidence", direction, level)
}

var whitespace = regexp.MustCompile(`\s+`)

// Preprocess collapses whitespace and truncates text to maxChars runes
func Preprocess(text string, maxChars int) string {
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if maxChars <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) > maxChars {
		return strings.TrimSpace(string(r[:maxChars]))
	}
	return text
}
