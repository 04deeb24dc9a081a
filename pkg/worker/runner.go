package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// Worker is one background pass over committed data
type Worker interface {
	// Name is used for logging and lock keys
	Name() string
	// Run executes one pass
	Run(ctx context.Context) error
}

// Func adapts a function into a Worker
type Func struct {
	Fn    func(ctx context.Context) error
	Label string
}

func (f Func) Name() string                  { return f.Label }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// PeriodicWorker runs a Worker on a fixed interval until its context ends
type PeriodicWorker struct {
	worker   Worker
	wg       *sync.WaitGroup
	name     string
	interval time.Duration
	runs     int64
	failures int64
	mu       sync.Mutex
}

func NewPeriodicWorker(worker Worker, interval time.Duration) *PeriodicWorker {
	return &PeriodicWorker{
		worker:   worker,
		interval: interval,
		wg:       &sync.WaitGroup{},
		name:     worker.Name(),
	}
}

func (pw *PeriodicWorker) Start(ctx context.Context) {
	pw.wg.Add(1)
	go pw.run(ctx)
}

// Stop waits for the current pass to finish, at most timeout
func (pw *PeriodicWorker) Stop(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("worker stopped", zap.String("worker", pw.name))
		return true
	case <-time.After(timeout):
		logger.Warn("worker stop timeout, abandoning in-flight pass", zap.String("worker", pw.name))
		return false
	}
}

// Stats returns how many passes ran and how many failed
func (pw *PeriodicWorker) Stats() (runs, failures int64) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.runs, pw.failures
}

func (pw *PeriodicWorker) run(ctx context.Context) {
	defer pw.wg.Done()

	logger.Info("worker started",
		zap.String("worker", pw.name),
		zap.Duration("interval", pw.interval),
	)

	pw.once(ctx)

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping", zap.String("worker", pw.name))
			return
		case <-ticker.C:
			pw.once(ctx)
		}
	}
}

func (pw *PeriodicWorker) once(ctx context.Context) {
	start := time.Now()
	err := pw.worker.Run(ctx)

	pw.mu.Lock()
	pw.runs++
	if err != nil {
		pw.failures++
	}
	pw.mu.Unlock()

	if err != nil {
		// a failed pass never stops the loop
		logger.Error("worker pass failed",
			zap.String("worker", pw.name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	logger.Debug("worker pass done",
		zap.String("worker", pw.name),
		zap.Duration("took", time.Since(start)),
	)
}

// Group owns a set of periodic workers sharing one cancellable context
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	workers []*PeriodicWorker
	mu      sync.Mutex
}

func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{ctx: ctx, cancel: cancel}
}

func (g *Group) Add(worker Worker, interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.workers = append(g.workers, NewPeriodicWorker(worker, interval))
}

func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, w := range g.workers {
		w.Start(g.ctx)
	}
	logger.Info("worker group started", zap.Int("workers", len(g.workers)))
}

// Stop cancels every worker and waits for each up to timeout
func (g *Group) Stop(timeout time.Duration) {
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()

	clean := 0
	for _, w := range g.workers {
		if w.Stop(timeout) {
			clean++
		}
	}
	logger.Info("worker group stopped",
		zap.Int("workers", len(g.workers)),
		zap.Int("clean", clean),
	)
}

// RunBackground starts a single periodic worker
func RunBackground(ctx context.Context, worker Worker, interval time.Duration) *PeriodicWorker {
	pw := NewPeriodicWorker(worker, interval)
	pw.Start(ctx)
	return pw
}
