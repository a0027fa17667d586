package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work submitted to a Pool.
type Task struct {
	// ID identifies the task in errors and observations (a burn cell number, for example).
	ID string

	// Run performs the work. It must honour ctx cancellation.
	Run func(ctx context.Context) error
}

// Observer is notified after every task attempt.
type Observer func(id string, attempt int, duration time.Duration, err error)

// Pool executes tasks with bounded parallelism and fail-fast semantics.
// The first task error cancels the context handed to every other task and
// is the error returned by Run.
type Pool struct {
	// maxParallel is the maximum number of concurrent workers
	maxParallel int

	// maxRetries is how many times a transient failure is retried
	maxRetries int

	// baseBackoff is the first retry delay, doubled per attempt
	baseBackoff time.Duration

	observer Observer
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithRetries retries transient task failures up to n times.
func WithRetries(n int, base time.Duration) PoolOption {
	return func(p *Pool) {
		p.maxRetries = n
		p.baseBackoff = base
	}
}

// WithObserver registers a callback invoked after every attempt.
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) {
		p.observer = o
	}
}

// NewPool creates a pool running at most maxParallel tasks at once.
func NewPool(maxParallel int, opts ...PoolOption) *Pool {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	p := &Pool{
		maxParallel: maxParallel,
		baseBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxParallel returns the worker bound.
func (p *Pool) MaxParallel() int {
	return p.maxParallel
}

// Run executes all tasks and waits for them to finish.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			// Skip queued work once a sibling has failed
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if err := p.runTask(gctx, task); err != nil {
				return fmt.Errorf("task %s failed: %w", task.ID, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// runTask executes a single task with retry logic.
func (p *Pool) runTask(ctx context.Context, task Task) error {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		start := time.Now()
		err = task.Run(ctx)
		if p.observer != nil {
			p.observer(task.ID, attempt, time.Since(start), err)
		}

		if err == nil || !IsRetryable(err) || attempt >= p.maxRetries {
			break
		}

		select {
		case <-time.After(p.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// backoff returns baseBackoff * 2^attempt capped at one minute.
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.baseBackoff * time.Duration(math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
