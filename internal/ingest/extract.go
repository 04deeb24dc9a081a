package ingest

import (
	"strings"
	"unicode"

	"github.com/selivandex/newsimpact/pkg/models"
)

const (
	EntityTicker       = "ticker"
	EntityOrganization = "organization"
)

// sentence starters that look like proper nouns but are not entities
var stopCaps = map[string]bool{
	"The": true, "A": true, "An": true, "In": true, "On": true, "At": true,
	"And": true, "But": true, "For": true, "With": true, "As": true, "By": true,
	"This": true, "That": true, "It": true, "Its": true, "Why": true, "How": true,
	"What": true, "Here": true, "After": true, "Before": true,
}

// ExtractEntities maps the ticker, the company name and capitalised
// multi-word spans of the title to entity types.
func ExtractEntities(raw models.RawArticle) models.Entities {
	entities := models.Entities{}
	if raw.Ticker != "" {
		entities[strings.ToUpper(raw.Ticker)] = EntityTicker
	}
	if raw.CompanyName != "" {
		entities[raw.CompanyName] = EntityOrganization
	}
	for _, span := range capitalisedSpans(raw.Title) {
		if _, ok := entities[span]; !ok {
			entities[span] = EntityOrganization
		}
	}
	return entities
}

func capitalisedSpans(text string) []string {
	var spans []string
	var cur []string
	flush := func() {
		if len(cur) >= 2 {
			spans = append(spans, strings.Join(cur, " "))
		}
		cur = cur[:0]
	}
	for _, w := range strings.Fields(text) {
		word := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&' && r != '.' })
		word = strings.TrimRight(word, ".")
		runes := []rune(word)
		if len(runes) > 0 && unicode.IsUpper(runes[0]) && !(len(cur) == 0 && stopCaps[word]) {
			cur = append(cur, word)
		} else {
			flush()
		}
		// punctuation after a word closes the span
		if strings.ContainsAny(w[len(w)-1:], ",;:!?") {
			flush()
		}
	}
	flush()
	return spans
}

// MergeKeywords returns the lowercased union of keyword lists, in first-seen order
func MergeKeywords(lists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range lists {
		for _, k := range list {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
