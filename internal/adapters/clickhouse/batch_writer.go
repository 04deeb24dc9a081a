package clickhouse

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

// BatchWriter buffers records and hands them to flushFunc in batches,
// when the buffer fills up or every maxWait
type BatchWriter[T any] struct {
	ctx         context.Context
	flushFunc   func(context.Context, []T) error
	flushTicker *time.Ticker
	cancel      context.CancelFunc
	name        string
	buffer      []T
	wg          sync.WaitGroup
	bufferMu    sync.Mutex
	flushMu     sync.Mutex
	maxBatch    int
	flushed     int64
	failed      int64
}

// NewBatchWriter creates new batch writer
func NewBatchWriter[T any](name string, maxBatch int, maxWait time.Duration, flushFunc func(context.Context, []T) error) *BatchWriter[T] {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	bw := &BatchWriter[T]{
		name:        name,
		buffer:      make([]T, 0, maxBatch),
		maxBatch:    maxBatch,
		flushFunc:   flushFunc,
		ctx:         ctx,
		cancel:      cancel,
		flushTicker: time.NewTicker(maxWait),
	}

	bw.wg.Add(1)
	go bw.autoFlush()

	return bw
}

// Add adds records to the buffer
func (bw *BatchWriter[T]) Add(records ...T) {
	bw.bufferMu.Lock()
	bw.buffer = append(bw.buffer, records...)
	shouldFlush := len(bw.buffer) >= bw.maxBatch
	bw.bufferMu.Unlock()

	if shouldFlush {
		bw.Flush()
	}
}

func (bw *BatchWriter[T]) autoFlush() {
	defer bw.wg.Done()

	for {
		select {
		case <-bw.flushTicker.C:
			bw.Flush()
		case <-bw.ctx.Done():
			return
		}
	}
}

// Flush writes whatever is buffered now
func (bw *BatchWriter[T]) Flush() {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.bufferMu.Lock()
	if len(bw.buffer) == 0 {
		bw.bufferMu.Unlock()
		return
	}
	toWrite := make([]T, len(bw.buffer))
	copy(toWrite, bw.buffer)
	bw.buffer = bw.buffer[:0]
	bw.bufferMu.Unlock()

	// detached from bw.ctx so the final flush in Close still runs
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := bw.flushFunc(ctx, toWrite); err != nil {
		bw.failed += int64(len(toWrite))
		logger.Error("failed to flush batch",
			zap.String("writer", bw.name),
			zap.Int("records", len(toWrite)),
			zap.Error(err),
		)
		return
	}

	bw.flushed += int64(len(toWrite))
	logger.Debug("flushed batch",
		zap.String("writer", bw.name),
		zap.Int("records", len(toWrite)),
	)
}

// Stats returns how many records were written and how many were lost
func (bw *BatchWriter[T]) Stats() (flushed, failed int64) {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()
	return bw.flushed, bw.failed
}

// Close stops the writer and flushes remaining data
func (bw *BatchWriter[T]) Close() error {
	bw.flushTicker.Stop()
	bw.cancel()
	bw.wg.Wait()
	bw.Flush()
	return nil
}

// BarStore is where bar batches end up (Postgres or ClickHouse)
type BarStore interface {
	SaveBars(ctx context.Context, bars []models.PriceBar) (int, error)
}

// BarBatchWriter batches price bars for a BarStore
type BarBatchWriter struct {
	*BatchWriter[models.PriceBar]
}

// NewBarBatchWriter creates batch writer for OHLCV bars
func NewBarBatchWriter(store BarStore, maxBatch int, maxWait time.Duration) *BarBatchWriter {
	flushFunc := func(ctx context.Context, bars []models.PriceBar) error {
		_, err := store.SaveBars(ctx, bars)
		return err
	}
	return &BarBatchWriter{BatchWriter: NewBatchWriter("price-bars", maxBatch, maxWait, flushFunc)}
}
