package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/newsimpact/pkg/models"
)

type fixedTone struct{}

func (fixedTone) ToneVector(text string, dim int) []float32 {
	return make([]float32, dim)
}

type brokenEmbedder struct{ err error }

func (b brokenEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, b.err }
func (b brokenEmbedder) Model() string                                    { return "broken" }
func (b brokenEmbedder) Dim() int                                         { return 8 }

func TestHashEmbedderIsDeterministic(t *testing.T) {
	e := NewHashEmbedder(32)
	a, err := e.Embed(context.Background(), "Apple beats earnings expectations")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Apple beats earnings expectations")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-9)
}

func TestHashEmbedderSimilarTextsAreCloser(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "oil prices surge after opec cut")
	near, _ := e.Embed(ctx, "oil prices surge on opec supply cut")
	far, _ := e.Embed(ctx, "chipmaker unveils new gpu lineup")

	assert.Greater(t, Cosine(q, near), Cosine(q, far))
}

func TestGeneratorDimensionMismatch(t *testing.T) {
	g := NewGenerator(NewHashEmbedder(16), fixedTone{}, 32, 4)

	_, err := g.Generate(context.Background(), "text")
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestGeneratorWrapsFailures(t *testing.T) {
	g := NewGenerator(brokenEmbedder{err: errors.New("boom")}, fixedTone{}, 8, 4)

	_, err := g.Generate(context.Background(), "text")
	assert.ErrorIs(t, err, models.ErrEmbeddingFailure)
	assert.NotErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestGeneratorProducesBothSpaces(t *testing.T) {
	g := NewGenerator(NewHashEmbedder(16), fixedTone{}, 16, 4)

	v, err := g.Generate(context.Background(), "Tesla shares rally")
	require.NoError(t, err)
	assert.Equal(t, HashModel, v.Model)
	assert.Len(t, v.Content, 16)
	assert.Len(t, v.Sentiment, 4)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
}
