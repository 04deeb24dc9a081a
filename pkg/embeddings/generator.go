package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Embedder produces content vectors of a fixed dimension for one model
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dim() int
}

// ToneEncoder maps text into the sentiment-conditioned space
type ToneEncoder interface {
	ToneVector(text string, dim int) []float32
}

// Vectors is the output of Generator.Generate
type Vectors struct {
	Model     string
	Content   []float32
	Sentiment []float32
}

// Generator produces both article embeddings and enforces their dimensions
type Generator struct {
	content      Embedder
	tone         ToneEncoder
	contentDim   int
	sentimentDim int
}

func NewGenerator(content Embedder, tone ToneEncoder, contentDim, sentimentDim int) *Generator {
	return &Generator{content: content, tone: tone, contentDim: contentDim, sentimentDim: sentimentDim}
}

// Model is the identifier stored next to every content vector
func (g *Generator) Model() string { return g.content.Model() }

// Generate embeds text in both spaces. Dimension mismatches are returned as
// models.ErrDimensionMismatch; every other failure as models.ErrEmbeddingFailure.
func (g *Generator) Generate(ctx context.Context, text string) (*Vectors, error) {
	content, err := g.Query(ctx, text)
	if err != nil {
		return nil, err
	}

	sentiment := g.tone.ToneVector(text, g.sentimentDim)
	if len(sentiment) != g.sentimentDim {
		return nil, fmt.Errorf("%w: sentiment vector has %d dims, want %d", models.ErrDimensionMismatch, len(sentiment), g.sentimentDim)
	}

	return &Vectors{Model: g.content.Model(), Content: content, Sentiment: sentiment}, nil
}

// Query embeds text in the content space only, for similarity search
func (g *Generator) Query(ctx context.Context, text string) ([]float32, error) {
	content, err := g.content.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, models.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingFailure, err)
	}
	if err := CheckDim(content, g.contentDim); err != nil {
		return nil, err
	}
	return content, nil
}

// CheckDim fails with models.ErrDimensionMismatch unless len(v) == want
func CheckDim(v []float32, want int) error {
	if len(v) != want {
		return fmt.Errorf("%w: got %d dims, want %d", models.ErrDimensionMismatch, len(v), want)
	}
	return nil
}
