package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent LLM calls (default: 8)
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 8,
	}
}

// WorkerPool bounds concurrent LLM calls. Evaluation and embedding batches
// fan out through it so a large discovery job cannot exceed the generation
// service's rate limits no matter how many candidates it produces.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new LLM worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// WorkItem is one unit of work.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult is the outcome of one work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process runs all items through a fixed set of workers and returns one
// result per item, in completion order. Item failures are recorded, not
// propagated, so one bad call never sinks the batch. Once ctx is cancelled,
// items that have not started complete immediately with ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	workers := pool.config.MaxConcurrent
	if workers > len(items) {
		workers = len(items)
	}

	pending := make(chan WorkItem[T], len(items))
	for _, item := range items {
		pending <- item
	}
	close(pending)

	resultsChan := make(chan WorkResult[T], len(items))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for item := range pending {
				if ctx.Err() != nil {
					var zero T
					resultsChan <- WorkResult[T]{ID: item.ID, Result: zero, Err: ctx.Err()}
					continue
				}
				result, err := item.Execute(ctx)
				resultsChan <- WorkResult[T]{ID: item.ID, Result: result, Err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]WorkResult[T], 0, len(items))
	for result := range resultsChan {
		results = append(results, result)
		if onProgress != nil {
			onProgress(len(results), len(items))
		}
	}
	return results
}
