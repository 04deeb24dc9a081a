package sentiment

import (
	"sort"
	"strings"
)

// KeywordExtractor tags articles with market-moving event phrases and lexicon hits
type KeywordExtractor struct {
	analyzer *Analyzer
	phrases  map[string]string
}

func NewKeywordExtractor(a *Analyzer) *KeywordExtractor {
	return &KeywordExtractor{analyzer: a, phrases: buildEventPhrases()}
}

// Extract returns the event tags and lexicon terms found in text, deduplicated and sorted.
// At most limit keywords are returned when limit > 0.
func (k *KeywordExtractor) Extract(text string, limit int) []string {
	lower := strings.ToLower(text)
	seen := map[string]bool{}

	for phrase, tag := range k.phrases {
		if strings.Contains(lower, phrase) {
			seen[tag] = true
		}
	}
	for _, term := range k.analyzer.Terms(text) {
		seen[term] = true
	}

	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// buildEventPhrases maps phrases to the event tag they signal
func buildEventPhrases() map[string]string {
	return map[string]string{
		"earnings":          "earnings",
		"quarterly results": "earnings",
		"revenue":           "earnings",
		"guidance":          "guidance",
		"outlook":           "guidance",
		"forecast":          "guidance",
		"merger":            "m&a",
		"acquisition":       "m&a",
		"acquire":           "m&a",
		"takeover":          "m&a",
		"ipo":               "ipo",
		"initial public":    "ipo",
		"fda":               "regulatory",
		"sec ":              "regulatory",
		"antitrust":         "regulatory",
		"regulator":         "regulatory",
		"federal reserve":   "macro",
		"interest rate":     "macro",
		"inflation":         "macro",
		"dividend":          "capital-return",
		"buyback":           "capital-return",
		"share repurchase":  "capital-return",
		"layoff":            "restructuring",
		"restructuring":     "restructuring",
		"price target":      "analyst",
		"analyst":           "analyst",
		"lawsuit":           "litigation",
		"settlement":        "litigation",
	}
}
