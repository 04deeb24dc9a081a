package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/embeddings"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// Index is the nearest-neighbour store over content vectors
type Index interface {
	SearchByContentVector(ctx context.Context, query []float32, model string, k int) ([]models.SimilarArticle, error)
	ContentVector(ctx context.Context, id uuid.UUID) ([]float32, string, error)
}

// QueryEmbedder embeds free text with the model the stored vectors use
type QueryEmbedder interface {
	Query(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Query is either free text or a precomputed content vector
type Query struct {
	Text   string
	Vector []float32
}

type Service struct {
	index    Index
	embedder QueryEmbedder
	dim      int
	defaultK int
	maxK     int
}

func NewService(index Index, embedder QueryEmbedder, dim, defaultK, maxK int) *Service {
	return &Service{index: index, embedder: embedder, dim: dim, defaultK: defaultK, maxK: maxK}
}

// ClampK applies the default and the configured upper bound
func (s *Service) ClampK(k int) int {
	if k <= 0 {
		return s.defaultK
	}
	if k > s.maxK {
		return s.maxK
	}
	return k
}

// Similar returns up to k articles nearest to the query, most similar first,
// newer first on ties. Vectors of the wrong dimension fail with
// models.ErrDimensionMismatch instead of being truncated.
func (s *Service) Similar(ctx context.Context, q Query, k int) ([]models.SimilarArticle, error) {
	vec := q.Vector
	if vec == nil {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			return nil, errors.New("similarity query is empty")
		}
		var err error
		vec, err = s.embedder.Query(ctx, text)
		if err != nil {
			return nil, err
		}
	}
	if err := embeddings.CheckDim(vec, s.dim); err != nil {
		return nil, err
	}

	k = s.ClampK(k)
	hits, err := s.index.SearchByContentVector(ctx, vec, s.embedder.Model(), k)
	if err != nil {
		return nil, err
	}

	Rank(hits)
	if len(hits) > k {
		hits = hits[:k]
	}

	logger.Debug("similarity search",
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
		zap.Bool("text_query", q.Vector == nil),
	)
	return hits, nil
}

// SimilarTo ranks articles against the stored vector of another article,
// excluding the article itself
func (s *Service) SimilarTo(ctx context.Context, id uuid.UUID, k int) ([]models.SimilarArticle, error) {
	vec, model, err := s.index.ContentVector(ctx, id)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return nil, fmt.Errorf("%w: article %s has no content embedding yet", models.ErrEmbeddingFailure, id)
	}
	if model != s.embedder.Model() {
		return nil, fmt.Errorf("%w: article embedded with %s, search uses %s", models.ErrDimensionMismatch, model, s.embedder.Model())
	}

	k = s.ClampK(k)
	hits, err := s.Similar(ctx, Query{Vector: vec}, min(k+1, s.maxK))
	if err != nil {
		return nil, err
	}

	out := make([]models.SimilarArticle, 0, len(hits))
	for _, h := range hits {
		if h.Article.ID == id {
			continue
		}
		out = append(out, h)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Rank orders hits by similarity descending, then by published_at descending
func Rank(hits []models.SimilarArticle) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Article.PublishedAt.After(hits[j].Article.PublishedAt)
	})
}
