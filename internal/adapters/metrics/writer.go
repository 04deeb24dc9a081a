package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
	"github.com/selivandex/newsimpact/pkg/metrics"
)

// ClickHouseWriter implements metrics.Writer. Each table batch is sent as one
// native ClickHouse insert (prepare inside a tx, exec per row, commit).
type ClickHouseWriter struct {
	db *sqlx.DB
}

// NewClickHouseWriter creates a writer on an open ClickHouse connection
func NewClickHouseWriter(db *sqlx.DB) *ClickHouseWriter {
	return &ClickHouseWriter{db: db}
}

// Write inserts metrics into tableName in column order of Metric.Values
func (w *ClickHouseWriter) Write(ctx context.Context, tableName string, batch []metrics.Metric) error {
	if len(batch) == 0 {
		return nil
	}
	if strings.ContainsAny(tableName, " ;`'\"") {
		return fmt.Errorf("invalid table name %q", tableName)
	}

	columnCount := len(batch[0].Values())
	if columnCount == 0 {
		return fmt.Errorf("metrics for %s have no columns", tableName)
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, "INSERT INTO "+tableName)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert into %s: %w", tableName, err)
	}
	defer stmt.Close()

	for i, m := range batch {
		values := m.Values()
		if len(values) != columnCount {
			tx.Rollback()
			return fmt.Errorf("row %d has wrong column count: expected %d, got %d", i, columnCount, len(values))
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			tx.Rollback()
			return fmt.Errorf("ClickHouse insert failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s batch: %w", tableName, err)
	}

	logger.Debug("ClickHouse batch insert successful",
		zap.String("table", tableName),
		zap.Int("rows", len(batch)),
	)
	return nil
}

// Close is a no-op; the connection is owned by the caller
func (w *ClickHouseWriter) Close() error {
	return nil
}

// LogWriter implements metrics.Writer by logging batch sizes. Used when
// ClickHouse is disabled.
type LogWriter struct{}

func (LogWriter) Write(_ context.Context, tableName string, batch []metrics.Metric) error {
	logger.Debug("metrics batch", zap.String("table", tableName), zap.Int("rows", len(batch)))
	return nil
}

func (LogWriter) Close() error { return nil }
