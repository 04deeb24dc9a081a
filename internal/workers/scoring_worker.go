package workers

import (
	"context"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// PendingScorer drains the unscored queue
type PendingScorer interface {
	ScorePending(ctx context.Context) (scored, failed int, err error)
}

// ScoringWorker picks up articles left unscored by earlier failures or
// abandoned claims. Per-article failures are recorded on the article.
type ScoringWorker struct {
	scorer PendingScorer
}

func NewScoringWorker(scorer PendingScorer) *ScoringWorker {
	return &ScoringWorker{scorer: scorer}
}

func (w *ScoringWorker) Name() string {
	return "sentiment_scoring"
}

func (w *ScoringWorker) Run(ctx context.Context) error {
	scored, failed, err := w.scorer.ScorePending(ctx)
	if err != nil {
		return err
	}
	if scored+failed > 0 {
		logger.Info("scoring pass finished", zap.Int("scored", scored), zap.Int("failed", failed))
	}
	return nil
}
