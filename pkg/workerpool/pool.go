package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/apperrors"
)

// Config configures a worker pool.
type Config struct {
	MaxConcurrent int           // Maximum concurrent tasks (default: 8)
	TaskTimeout   time.Duration // Per-task timeout; zero means none
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
		TaskTimeout:   30 * time.Second,
	}
}

// Pool runs tasks with bounded parallelism. It uses a semaphore to limit
// outstanding tasks and processes results as they complete, allowing new
// tasks to start immediately. A Pool holds no goroutines between calls.
type Pool struct {
	config Config
	logger *zap.Logger
	closed atomic.Bool
}

// New creates a worker pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 8
	}
	return &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
}

// Alive reports whether the pool accepts work. A nil pool is not alive.
func (p *Pool) Alive() bool {
	return p != nil && !p.closed.Load()
}

// Close stops the pool from accepting new work. Running tasks finish.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.logger.Debug("Worker pool closed")
	}
}

// MaxConcurrent returns the concurrency bound.
func (p *Pool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult represents the result of a work item. Index is the item's
// position in the submitted slice.
type WorkResult[T any] struct {
	ID     string
	Index  int
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism.
// Returns results in completion order (not submission order).
// Continues processing all items even if some fail; a panicking task is
// reported as an error. Returns apperrors.ErrPoolClosed if the pool is closed.
func Process[T any](
	ctx context.Context,
	pool *Pool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) ([]WorkResult[T], error) {
	if !pool.Alive() {
		return nil, apperrors.ErrPoolClosed
	}
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]WorkResult[T], 0, len(items))
	resultsChan := make(chan WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(idx int, item WorkItem[T]) {
			defer wg.Done()

			// Acquire semaphore slot (blocks if at max concurrency)
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultsChan <- WorkResult[T]{ID: item.ID, Index: idx, Err: ctx.Err()}
				return
			}

			result, err := runItem(ctx, pool, item)
			resultsChan <- WorkResult[T]{
				ID:     item.ID,
				Index:  idx,
				Result: result,
				Err:    err,
			}
		}(i, item)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	completed := 0
	for result := range resultsChan {
		results = append(results, result)
		completed++
		if onProgress != nil {
			onProgress(completed, len(items))
		}
	}

	return results, nil
}

func runItem[T any](ctx context.Context, p *Pool, item WorkItem[T]) (result T, err error) {
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				zap.String("task_id", item.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("task %s panicked: %v", item.ID, r)
		}
	}()

	return item.Execute(ctx)
}
