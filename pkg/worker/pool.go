package worker

import (
	"context"
	"sync"
)

// ForEach runs fn for every item on at most size goroutines.
// It stops handing out items once ctx is done and returns the number of
// items fn was called for. fn errors are the caller's to record.
func ForEach[T any](ctx context.Context, size int, items []T, fn func(ctx context.Context, item T)) int {
	if size <= 0 {
		size = 1
	}
	if size > len(items) {
		size = len(items)
	}

	jobs := make(chan T)
	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0

	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				mu.Lock()
				started++
				mu.Unlock()
				fn(ctx, item)
			}
		}()
	}

feed:
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	return started
}
