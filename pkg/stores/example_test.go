package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated ledger.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println(store.HealthCheck(ctx) == nil)
	// Output: true
}

// ExampleSQLiteStore_RecordStep records a depletion run and one of its steps.
func ExampleSQLiteStore_RecordStep() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.MemoryPath)
	defer store.Close()

	_ = store.CreateRun(ctx, &engine.RunRecord{
		ID:        "run-001",
		Kind:      engine.RunKindDeplete,
		Deck:      "core.i",
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})

	keff := 1.0123
	_ = store.RecordStep(ctx, &engine.StepRecord{
		RunID:    "run-001",
		Step:     0,
		Interval: 30,
		Rate:     1,
		End:      30,
		Keff:     &keff,
		Source:   "computed",
	})

	steps, _ := store.ListSteps(ctx, "run-001")
	fmt.Printf("%d step(s), keff %.4f\n", len(steps), *steps[0].Keff)
	// Output: 1 step(s), keff 1.0123
}
