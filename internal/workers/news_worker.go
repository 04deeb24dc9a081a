package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// FetchProcessor is the fetch-and-process entry point of the pipeline
type FetchProcessor interface {
	FetchAndProcess(ctx context.Context, params models.FetchParams) (models.IngestResult, error)
}

// NewsWorker periodically fetches news and scores what was inserted.
// Overlapping runs are safe, dedup happens in the store.
type NewsWorker struct {
	pipeline FetchProcessor
	params   models.FetchParams
	timeout  time.Duration
}

// NewNewsWorker creates new news worker
func NewNewsWorker(pipeline FetchProcessor, params models.FetchParams, timeout time.Duration) *NewsWorker {
	return &NewsWorker{pipeline: pipeline, params: params, timeout: timeout}
}

// Name returns worker name
func (w *NewsWorker) Name() string {
	return "news_ingest"
}

// Run executes one fetch pass
func (w *NewsWorker) Run(ctx context.Context) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	startTime := time.Now()
	res, err := w.pipeline.FetchAndProcess(ctx, w.params)
	if err != nil {
		return err
	}

	if res.Inserted == 0 {
		logger.Debug("no new news items", zap.Int("skipped_duplicate", res.SkippedDuplicate))
		return nil
	}

	logger.Info("news ingested",
		zap.Int("inserted", res.Inserted),
		zap.Int("scored", res.Scored),
		zap.Int("skipped_duplicate", res.SkippedDuplicate),
		zap.Int("rejected_invalid", res.RejectedInvalid),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}
