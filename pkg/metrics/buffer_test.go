package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu     sync.Mutex
	rows   map[string]int
	closed bool
}

func (w *memWriter) Write(ctx context.Context, table string, batch []Metric) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rows == nil {
		w.rows = map[string]int{}
	}
	w.rows[table] += len(batch)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriter) count(table string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows[table]
}

func TestBufferFlushesOnClose(t *testing.T) {
	w := &memWriter{}
	bm := NewBufferedMetrics(BufferConfig{Writer: w, BatchSize: 100, FlushInterval: time.Hour})

	require.NoError(t, bm.Add(&IngestMetric{Timestamp: time.Now(), Provider: "alphavantage", Inserted: 3}))
	require.NoError(t, bm.Add(&ScoringMetric{Timestamp: time.Now(), Model: "lexicon"}))
	assert.Equal(t, 2, bm.Size())

	require.NoError(t, bm.Close(context.Background()))
	assert.Equal(t, 1, w.count("ingest_metrics"))
	assert.Equal(t, 1, w.count("scoring_metrics"))
	assert.True(t, w.closed)
	assert.Equal(t, 0, bm.Size())
}

func TestBufferDropsWhenFull(t *testing.T) {
	w := &memWriter{}
	bm := NewBufferedMetrics(BufferConfig{Writer: w, BatchSize: 100, FlushInterval: time.Hour, MaxBufferSize: 1})
	defer bm.Close(context.Background())

	require.NoError(t, bm.Add(&ImpactMetric{Ticker: "AAPL"}))
	assert.ErrorIs(t, bm.Add(&ImpactMetric{Ticker: "MSFT"}), ErrBufferFull)
	assert.Equal(t, int64(1), bm.Dropped())
}

func TestBufferRejectsNil(t *testing.T) {
	bm := NewBufferedMetrics(BufferConfig{Writer: &memWriter{}, FlushInterval: time.Hour})
	defer bm.Close(context.Background())

	assert.Error(t, bm.Add(nil))
}
