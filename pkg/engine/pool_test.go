package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestPool_RunsAllTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	var mu sync.Mutex
	seen := make(map[string]bool)

	tasks := make([]Task, 0, 8)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("cell-%d", i)
		tasks = append(tasks, Task{ID: id, Run: func(ctx context.Context) error {
			mu.Lock()
			seen[id] = true
			mu.Unlock()
			return nil
		}})
	}

	if err := NewPool(3).Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != 8 {
		t.Errorf("executed %d tasks, want 8", len(seen))
	}
}

func TestPool_BoundsParallelism(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, peak int32
	tasks := make([]Task, 0, 10)
	for i := 0; i < 10; i++ {
		tasks = append(tasks, Task{ID: fmt.Sprint(i), Run: func(ctx context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		}})
	}

	if err := NewPool(2).Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if peak > 2 {
		t.Errorf("peak parallelism = %d, want <= 2", peak)
	}
}

func TestPool_FailFastCancelsSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := NewPermanentError("solver exited", nil).WithCode(ErrCodeSolverFailed)
	var cancelled int32
	started := make(chan struct{})

	tasks := []Task{
		{ID: "fail", Run: func(ctx context.Context) error {
			<-started
			return boom
		}},
		{ID: "slow", Run: func(ctx context.Context) error {
			close(started)
			select {
			case <-ctx.Done():
				atomic.AddInt32(&cancelled, 1)
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return nil
			}
		}},
	}

	err := NewPool(2).Run(context.Background(), tasks)
	if err == nil {
		t.Fatal("Run() error = nil, want failure")
	}
	if !errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeSolverFailed}) {
		t.Errorf("Run() error = %v, want solver failure", err)
	}
	if atomic.LoadInt32(&cancelled) != 1 {
		t.Error("sibling task was not cancelled")
	}
}

func TestPool_RetriesTransient(t *testing.T) {
	var attempts int32
	var observed int32

	task := Task{ID: "flaky", Run: func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return NewTransientError("solver crashed", nil)
		}
		return nil
	}}

	pool := NewPool(1,
		WithRetries(3, time.Millisecond),
		WithObserver(func(id string, attempt int, d time.Duration, err error) {
			atomic.AddInt32(&observed, 1)
		}),
	)
	if err := pool.Run(context.Background(), []Task{task}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if observed != 3 {
		t.Errorf("observed = %d, want 3", observed)
	}
}

func TestPool_DoesNotRetryPermanent(t *testing.T) {
	var attempts int32
	task := Task{ID: "bad", Run: func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return NewPermanentError("bad deck", nil)
	}}

	err := NewPool(1, WithRetries(5, time.Millisecond)).Run(context.Background(), []Task{task})
	if !IsPermanent(err) {
		t.Errorf("IsPermanent(%v) = false", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestPool_Empty(t *testing.T) {
	if err := NewPool(0).Run(context.Background(), nil); err != nil {
		t.Errorf("Run(nil) error = %v", err)
	}
}
