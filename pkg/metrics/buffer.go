package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// ErrBufferFull is returned by Add when MaxBufferSize is reached
var ErrBufferFull = errors.New("metrics buffer full")

// BufferedMetrics groups metrics per table and flushes on size or interval
type BufferedMetrics struct {
	writer        Writer
	buffer        map[string][]Metric
	flushTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	batchSize     int
	maxBufferSize int
	size          int
	dropped       int64
	bufferMu      sync.Mutex
}

type BufferConfig struct {
	Writer        Writer
	BatchSize     int
	FlushInterval time.Duration
	// MaxBufferSize drops new metrics once reached, 0 means unlimited
	MaxBufferSize int
}

func NewBufferedMetrics(cfg BufferConfig) *BufferedMetrics {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	bm := &BufferedMetrics{
		writer:        cfg.Writer,
		buffer:        make(map[string][]Metric),
		batchSize:     cfg.BatchSize,
		maxBufferSize: cfg.MaxBufferSize,
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		stopCh:        make(chan struct{}),
	}

	bm.wg.Add(1)
	go bm.autoFlush()

	logger.Info("metrics buffer initialized",
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Int("max_buffer_size", cfg.MaxBufferSize),
	)

	return bm
}

func (bm *BufferedMetrics) Add(metric Metric) error {
	if metric == nil {
		return fmt.Errorf("metric is nil")
	}

	tableName := metric.TableName()
	if tableName == "" {
		return fmt.Errorf("metric table name is empty")
	}

	bm.bufferMu.Lock()
	defer bm.bufferMu.Unlock()

	if bm.maxBufferSize > 0 && bm.size >= bm.maxBufferSize {
		bm.dropped++
		return ErrBufferFull
	}

	bm.buffer[tableName] = append(bm.buffer[tableName], metric)
	bm.size++

	if len(bm.buffer[tableName]) >= bm.batchSize {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := bm.Flush(ctx); err != nil {
				logger.Error("size-triggered flush failed", zap.Error(err))
			}
		}()
	}

	return nil
}

// Flush writes everything buffered so far. Tables that fail are logged and dropped.
func (bm *BufferedMetrics) Flush(ctx context.Context) error {
	bm.bufferMu.Lock()
	toFlush := bm.buffer
	bm.buffer = make(map[string][]Metric, len(toFlush))
	bm.size = 0
	bm.bufferMu.Unlock()

	var failed []string
	for tableName, batch := range toFlush {
		if len(batch) == 0 {
			continue
		}
		if err := bm.writer.Write(ctx, tableName, batch); err != nil {
			logger.Error("failed to flush metrics",
				zap.String("table", tableName),
				zap.Int("count", len(batch)),
				zap.Error(err),
			)
			failed = append(failed, tableName)
			continue
		}
		logger.Debug("metrics flushed",
			zap.String("table", tableName),
			zap.Int("count", len(batch)),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("flush failed for tables %v", failed)
	}
	return nil
}

func (bm *BufferedMetrics) Size() int {
	bm.bufferMu.Lock()
	defer bm.bufferMu.Unlock()
	return bm.size
}

// Dropped returns how many metrics were rejected because the buffer was full
func (bm *BufferedMetrics) Dropped() int64 {
	bm.bufferMu.Lock()
	defer bm.bufferMu.Unlock()
	return bm.dropped
}

// Close stops the flush loop, flushes what remains and closes the writer
func (bm *BufferedMetrics) Close(ctx context.Context) error {
	close(bm.stopCh)
	bm.flushTicker.Stop()
	bm.wg.Wait()

	flushErr := bm.Flush(ctx)
	if err := bm.writer.Close(); err != nil {
		return fmt.Errorf("close metrics writer: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("final metrics flush: %w", flushErr)
	}

	logger.Info("metrics buffer closed")
	return nil
}

func (bm *BufferedMetrics) autoFlush() {
	defer bm.wg.Done()

	for {
		select {
		case <-bm.flushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := bm.Flush(ctx); err != nil {
				logger.Warn("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-bm.stopCh:
			return
		}
	}
}
