package engine_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mocdown/mocdown/pkg/engine"
)

// ExamplePool_Run transmutes three burn cells with two workers.
func ExamplePool_Run() {
	var mu sync.Mutex
	var done []string

	tasks := make([]engine.Task, 0, 3)
	for _, cell := range []string{"1", "2", "3"} {
		cell := cell
		tasks = append(tasks, engine.Task{ID: cell, Run: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			done = append(done, cell)
			return nil
		}})
	}

	if err := engine.NewPool(2).Run(context.Background(), tasks); err != nil {
		fmt.Println("error:", err)
	}
	sort.Strings(done)
	fmt.Println(done)
	// Output: [1 2 3]
}

// ExampleHasCode classifies a failure by its sentinel code.
func ExampleHasCode() {
	err := fmt.Errorf("cycle 20: %w", engine.NewPermanentError("recycle did not converge", nil).
		WithCode(engine.ErrCodeNotConverged))

	fmt.Println(engine.IsPermanent(err), engine.IsRetryable(err))
	fmt.Println(engine.HasCode(err, engine.ErrCodeNotConverged))
	// Output:
	// true false
	// true
}
