package clickhouse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/models"
)

type memoryBarStore struct {
	mu      sync.Mutex
	batches [][]models.PriceBar
}

func (m *memoryBarStore) SaveBars(_ context.Context, bars []models.PriceBar) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, bars)
	return len(bars), nil
}

func (m *memoryBarStore) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func bar(i int) models.PriceBar {
	return models.PriceBar{
		Ticker:    "AAPL",
		Interval:  "15min",
		Timestamp: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
		Close:     decimal.NewFromInt(int64(100 + i)),
	}
}

func TestBarBatchWriter_FlushesOnSize(t *testing.T) {
	logger.InitNop()
	store := &memoryBarStore{}

	w := NewBarBatchWriter(store, 3, time.Hour)
	defer w.Close()

	w.Add(bar(1), bar(2))
	if got := store.total(); got != 0 {
		t.Fatalf("flushed early: %d", got)
	}

	w.Add(bar(3))
	if got := store.total(); got != 3 {
		t.Errorf("total = %d, want 3", got)
	}
}

func TestBarBatchWriter_CloseFlushesRemainder(t *testing.T) {
	logger.InitNop()
	store := &memoryBarStore{}

	w := NewBarBatchWriter(store, 100, time.Hour)
	w.Add(bar(1), bar(2))

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := store.total(); got != 2 {
		t.Errorf("total = %d, want 2", got)
	}

	flushed, failed := w.Stats()
	if flushed != 2 || failed != 0 {
		t.Errorf("Stats() = %d, %d", flushed, failed)
	}
}

func TestBarBatchWriter_FlushesOnTimer(t *testing.T) {
	logger.InitNop()
	store := &memoryBarStore{}

	w := NewBarBatchWriter(store, 100, 20*time.Millisecond)
	defer w.Close()

	w.Add(bar(1))

	deadline := time.Now().Add(2 * time.Second)
	for store.total() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.total() != 1 {
		t.Error("timer flush did not happen")
	}
}
