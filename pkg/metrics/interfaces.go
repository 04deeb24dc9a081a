package metrics

import "context"

// Metric is one row destined for a metrics table
type Metric interface {
	TableName() string
	// Values returns column values in table column order
	Values() []interface{}
}

// Writer persists a batch of metrics for one table
type Writer interface {
	Write(ctx context.Context, tableName string, metrics []Metric) error
	Close() error
}

// Buffer batches metrics and flushes them to a Writer
type Buffer interface {
	Add(metric Metric) error
	Flush(ctx context.Context) error
	Size() int
	Close(ctx context.Context) error
}

// Nop is a Buffer that drops everything
type Nop struct{}

func (Nop) Add(Metric) error            { return nil }
func (Nop) Flush(context.Context) error { return nil }
func (Nop) Size() int                   { return 0 }
func (Nop) Close(context.Context) error { return nil }
