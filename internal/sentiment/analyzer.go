package sentiment

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/selivandex/newsimpact/pkg/embeddings"
	"github.com/selivandex/newsimpact/pkg/models"
)

// LexiconModel is recorded as the model id of the local member
const LexiconModel = "lexicon-fin-v1"

// negations flip the polarity of the next negationSpan tokens
var negations = map[string]bool{
	"not": true, "no": true, "never": true, "without": true, "neither": true, "nor": true,
	"isn't": true, "wasn't": true, "didn't": true, "doesn't": true, "don't": true, "won't": true,
	"cannot": true, "can't": true, "fails": true, "failed": true,
}

const negationSpan = 3

// Analyzer is the local financial-lexicon classifier. It is fast, deterministic
// and always available, which makes it the ensemble's guaranteed member.
type Analyzer struct {
	positiveWords map[string]float64
	negativeWords map[string]float64
	intensifiers  map[string]float64
}

// NewAnalyzer creates new sentiment analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		positiveWords: buildPositiveWords(),
		negativeWords: buildNegativeWords(),
		intensifiers:  buildIntensifiers(),
	}
}

type lexiconHit struct {
	word   string
	weight float64
}

// scan returns the signed lexicon hits of text in order
func (a *Analyzer) scan(text string) []lexiconHit {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'' && r != '-')
	})

	var hits []lexiconHit
	negateLeft := 0
	boost := 1.0

	for _, word := range words {
		word = strings.Trim(word, "'-")
		if word == "" {
			continue
		}

		if negations[word] || strings.HasSuffix(word, "n't") {
			negateLeft = negationSpan
			continue
		}
		if m, ok := a.intensifiers[word]; ok {
			boost = m
			continue
		}

		weight := 0.0
		if w, ok := a.positiveWords[word]; ok {
			weight = w
		} else if w, ok := a.negativeWords[word]; ok {
			weight = -w
		}

		if weight != 0 {
			if negateLeft > 0 {
				weight = -weight * 0.8
			}
			hits = append(hits, lexiconHit{word: word, weight: weight * boost})
		}

		boost = 1.0
		if negateLeft > 0 {
			negateLeft--
		}
	}
	return hits
}

// AnalyzeSentiment returns the score in [-1, 1] and a confidence in [0, 1].
// Confidence grows with the number of hits and falls when hits disagree.
func (a *Analyzer) AnalyzeSentiment(text string) (score, confidence float64) {
	hits := a.scan(text)
	if len(hits) == 0 {
		return 0, 0.3
	}

	var sum, abs float64
	for _, h := range hits {
		sum += h.weight
		abs += math.Abs(h.weight)
	}

	score = sum / math.Sqrt(sum*sum+4)

	consistency := math.Abs(sum) / abs
	coverage := 1 - math.Exp(-float64(len(hits))/3)
	confidence = 0.3 + 0.6*coverage*(0.5+0.5*consistency)

	return clamp(score, -1, 1), clamp(confidence, 0, 1)
}

// Name is the member's model id
func (a *Analyzer) Name() string {
	return LexiconModel
}

// Classify implements Member
func (a *Analyzer) Classify(ctx context.Context, in *models.ScoringInput) (*models.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	score, confidence := a.AnalyzeSentiment(in.Text)
	return &models.Classification{
		Score:      score,
		Confidence: confidence,
		Label:      string(Label(score)),
	}, nil
}

// Terms returns the distinct lexicon words found in text, sorted
func (a *Analyzer) Terms(text string) []string {
	seen := map[string]bool{}
	for _, h := range a.scan(text) {
		seen[h.word] = true
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// ToneVector maps text into the sentiment-conditioned embedding space.
// The first two components carry score and confidence; lexicon hits are
// hashed into the rest with their signed weights.
func (a *Analyzer) ToneVector(text string, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	v := make([]float64, dim)
	score, confidence := a.AnalyzeSentiment(text)
	v[0] = score * 2
	if dim > 1 {
		v[1] = confidence
	}

	if dim > 2 {
		for _, h := range a.scan(text) {
			hasher := fnv.New32a()
			_, _ = hasher.Write([]byte(h.word))
			v[2+int(hasher.Sum32()%uint32(dim-2))] += h.weight
		}
	}

	return embeddings.Normalize(v)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// buildPositiveWords returns positive financial terms
func buildPositiveWords() map[string]float64 {
	return map[string]float64{
		// Results
		"beat":         0.8,
		"beats":        0.8,
		"exceeded":     0.7,
		"exceeds":      0.7,
		"record":       0.6,
		"profit":       0.6,
		"profitable":   0.6,
		"gain":         0.6,
		"gains":        0.6,
		"growth":       0.5,
		"grew":         0.5,
		"strong":       0.5,
		"robust":       0.5,
		"outperform":   0.7,
		"outperformed": 0.7,
		"upgrade":      0.7,
		"upgraded":     0.7,
		"raised":       0.5,
		"raises":       0.5,
		"dividend":     0.4,
		"buyback":      0.5,

		// Market moves
		"bullish":  1.0,
		"rally":    0.9,
		"rallied":  0.9,
		"surge":    0.8,
		"surged":   0.8,
		"soar":     0.8,
		"soared":   0.8,
		"jump":     0.6,
		"jumped":   0.6,
		"rise":     0.5,
		"rose":     0.5,
		"climb":    0.5,
		"climbed":  0.5,
		"breakout": 0.7,
		"high":     0.3,

		// Corporate
		"approval":     0.7,
		"approved":     0.7,
		"partnership":  0.5,
		"expansion":    0.5,
		"innovation":   0.5,
		"breakthrough": 0.6,
		"optimistic":   0.5,
		"positive":     0.5,
		"momentum":     0.4,
		"adoption":     0.5,
	}
}

// buildNegativeWords returns negative financial terms
func buildNegativeWords() map[string]float64 {
	return map[string]float64{
		// Results
		"miss":        0.8,
		"missed":      0.8,
		"misses":      0.8,
		"loss":        0.7,
		"losses":      0.7,
		"weak":        0.5,
		"downgrade":   0.7,
		"downgraded":  0.7,
		"cut":         0.5,
		"cuts":        0.5,
		"warning":     0.6,
		"warns":       0.6,
		"shortfall":   0.7,
		"writedown":   0.7,
		"impairment":  0.6,
		"layoffs":     0.6,
		"bankruptcy":  1.0,
		"default":     0.8,
		"recall":      0.6,
		"restatement": 0.8,

		// Market moves
		"bearish":  1.0,
		"crash":    1.0,
		"plunge":   0.8,
		"plunged":  0.8,
		"tumble":   0.7,
		"tumbled":  0.7,
		"slump":    0.7,
		"fall":     0.6,
		"fell":     0.6,
		"drop":     0.6,
		"dropped":  0.6,
		"decline":  0.6,
		"declined": 0.6,
		"selloff":  0.7,
		"sell-off": 0.7,
		"low":      0.3,

		// Corporate and legal
		"lawsuit":       0.7,
		"probe":         0.6,
		"investigation": 0.6,
		"fraud":         1.0,
		"scandal":       0.8,
		"fine":          0.5,
		"fined":         0.6,
		"penalty":       0.5,
		"ban":           0.7,
		"crackdown":     0.7,
		"pessimistic":   0.5,
		"negative":      0.5,
		"concern":       0.4,
		"concerns":      0.4,
		"uncertainty":   0.4,
		"volatile":      0.3,
	}
}

func buildIntensifiers() map[string]float64 {
	return map[string]float64{
		"sharply":     1.5,
		"significant": 1.3,
		"massive":     1.5,
		"strongly":    1.3,
		"slightly":    0.5,
		"modest":      0.6,
		"modestly":    0.6,
	}
}
