package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// EmbeddingBackfiller embeds articles that have no vectors for the current model
type EmbeddingBackfiller interface {
	BackfillEmbeddings(ctx context.Context, limit int) (int, error)
}

// EmbeddingBackfillWorker fills in embeddings that failed during scoring
// or were produced by another model
type EmbeddingBackfillWorker struct {
	backfiller EmbeddingBackfiller
	batchSize  int
}

// NewEmbeddingBackfillWorker creates new backfill worker
func NewEmbeddingBackfillWorker(backfiller EmbeddingBackfiller, batchSize int) *EmbeddingBackfillWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &EmbeddingBackfillWorker{backfiller: backfiller, batchSize: batchSize}
}

// Name returns worker name
func (w *EmbeddingBackfillWorker) Name() string {
	return "embedding_backfill"
}

// Run executes one iteration - backfills missing embeddings
func (w *EmbeddingBackfillWorker) Run(ctx context.Context) error {
	startTime := time.Now()

	n, err := w.backfiller.BackfillEmbeddings(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Debug("no articles need embedding backfill")
		return nil
	}

	logger.Info("embedding backfill completed",
		zap.Int("items_processed", n),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}
