package workers

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/internal/adapters/price"
	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// BarSink accepts bars for batched writing
type BarSink interface {
	Add(bars ...models.PriceBar)
}

// PriceWorker pulls intraday bars for the tracked tickers into the price store
type PriceWorker struct {
	source  price.BarSource
	sink    BarSink
	tickers []string
}

// NewPriceWorker creates new price worker
func NewPriceWorker(source price.BarSource, sink BarSink, tickers []string) *PriceWorker {
	return &PriceWorker{source: source, sink: sink, tickers: tickers}
}

// Name returns worker name
func (w *PriceWorker) Name() string {
	return "price_bars"
}

// Run fetches bars for every ticker; one failing ticker does not stop the rest
func (w *PriceWorker) Run(ctx context.Context) error {
	startTime := time.Now()
	totalFetched := 0

	for _, ticker := range w.tickers {
		if err := ctx.Err(); err != nil {
			return err
		}
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			continue
		}

		bars, err := w.source.FetchBars(ctx, ticker)
		if err != nil {
			logger.Warn("failed to fetch price bars",
				zap.String("source", w.source.Name()),
				zap.String("ticker", ticker),
				zap.Error(err),
			)
			continue
		}

		w.sink.Add(bars...)
		totalFetched += len(bars)
	}

	logger.Info("price bars fetched and buffered",
		zap.Int("total", totalFetched),
		zap.Int("tickers", len(w.tickers)),
		zap.Duration("latency", time.Since(startTime)),
	)
	return nil
}
