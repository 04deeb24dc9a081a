package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/metrics"
	"github.com/selivandex/newsimpact/pkg/retry"
)

// Repository stores embeddings by text hash. Embeddings are deterministic
// per model, so stored rows never expire.
type Repository interface {
	Get(ctx context.Context, textHash, model string) ([]float32, bool)
	Set(ctx context.Context, textHash string, embedding []float32, model string, textLength int) error
}

// Client generates content embeddings through the OpenAI embeddings API
type Client struct {
	repository    Repository
	metricsBuffer metrics.Buffer
	openaiClient  *openai.Client
	model         openai.EmbeddingModel
	retryPolicy   retry.Policy
	dim           int
	hits          int64
	misses        int64
}

type Config struct {
	OpenAIClient  *openai.Client
	Repository    Repository     // optional
	MetricsBuffer metrics.Buffer // optional
	Model         openai.EmbeddingModel
	Dimensions    int
	MaxAttempts   int
}

func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = openai.SmallEmbedding3
	}
	policy := retry.Default("openai-embeddings")
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}

	return &Client{
		openaiClient:  cfg.OpenAIClient,
		repository:    cfg.Repository,
		metricsBuffer: cfg.MetricsBuffer,
		model:         model,
		dim:           cfg.Dimensions,
		retryPolicy:   policy,
	}
}

func (c *Client) Model() string { return string(c.model) }

func (c *Client) Dim() int { return c.dim }

// Embed returns the content embedding of text, served from the repository when present
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	textHash := HashText(text)

	if c.repository != nil {
		if existing, found := c.repository.Get(ctx, textHash, string(c.model)); found {
			atomic.AddInt64(&c.hits, 1)
			c.record(textHash, len(text), true)
			return existing, nil
		}
		atomic.AddInt64(&c.misses, 1)
	}

	if c.openaiClient == nil {
		return nil, fmt.Errorf("openai embedding client not configured")
	}

	var result []float32
	_, err := retry.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
		req := openai.EmbeddingRequest{Model: c.model, Input: []string{text}}
		if c.dim > 0 && c.model != openai.AdaEmbeddingV2 {
			req.Dimensions = c.dim
		}
		resp, err := c.openaiClient.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return retry.Stop(fmt.Errorf("openai returned no embedding data"))
		}
		result = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if c.repository != nil {
		if err := c.repository.Set(ctx, textHash, result, string(c.model), len(text)); err != nil {
			logger.Warn("failed to store embedding", zap.Error(err))
		}
	}
	c.record(textHash, len(text), false)

	logger.Debug("embedding generated via openai",
		zap.Int("text_len", len(text)),
		zap.Int("dim", len(result)),
		zap.String("hash", textHash[:12]),
	)
	return result, nil
}

func (c *Client) record(textHash string, textLen int, hit bool) {
	if c.metricsBuffer == nil {
		return
	}
	if err := c.metricsBuffer.Add(&metrics.EmbeddingCacheMetric{
		Timestamp:  time.Now(),
		TextHash:   textHash[:16],
		TextLength: textLen,
		Model:      string(c.model),
		CacheHit:   hit,
	}); err != nil {
		logger.Debug("embedding metric dropped", zap.Error(err))
	}
}

// CacheStats returns repository hits and misses since start
func (c *Client) CacheStats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// HashText is the cache key of a text
func HashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
