package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mocdown/mocdown/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createRun(t *testing.T, store *SQLiteStore, id, kind string) *engine.RunRecord {
	t.Helper()
	run := &engine.RunRecord{
		ID:        id,
		Kind:      kind,
		Deck:      "core.i",
		Status:    engine.RunStatusRunning,
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected an error for an empty path")
	}

	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Migrate(context.Background()); err == nil {
		t.Fatal("expected migrate to fail before init")
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "steps", "cycles"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	createRun(t, store, "run-1", engine.RunKindDeplete)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store.Close()
	if _, err := store.GetRun(ctx, "run-1"); err != nil {
		t.Errorf("run did not survive reopening: %v", err)
	}
}

// TestRunCRUD tests run operations
func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	want := createRun(t, store, "run-1", engine.RunKindDeplete)
	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetRun() mismatch (-want +got):\n%s", diff)
	}

	msg := "solver exited 1"
	if err := store.UpdateRunStatus(ctx, "run-1", engine.RunStatusFailed, &msg); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}
	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != engine.RunStatusFailed || got.CompletedAt == nil || got.Error == nil || *got.Error != msg {
		t.Errorf("run after failure = %+v", got)
	}

	if err := store.UpdateRunStatus(ctx, "missing", engine.RunStatusCompleted, nil); !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("UpdateRunStatus(missing) error = %v", err)
	}
	if _, err := store.GetRun(ctx, "missing"); !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("GetRun(missing) error = %v", err)
	}
	if err := store.CreateRun(ctx, want); err == nil {
		t.Error("expected a duplicate run id to fail")
	}

	bad := *want
	bad.ID, bad.Kind = "run-bad", "plan"
	if err := store.CreateRun(ctx, &bad); err == nil {
		t.Error("expected an unknown run kind to fail")
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		run := &engine.RunRecord{
			ID:        id,
			Kind:      engine.RunKindRecycle,
			Deck:      "core.i",
			Status:    engine.RunStatusRunning,
			StartedAt: time.Date(2026, 3, 1, i, 0, 0, 0, time.UTC),
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns() = %v, want newest first", ids(runs))
	}

	runs, err = store.ListRuns(ctx, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "a" {
		t.Errorf("ListRuns(offset 2) = %v", ids(runs))
	}
}

func TestSteps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createRun(t, store, "run-1", engine.RunKindDeplete)

	keff, sigma := 1.01, 0.001
	steps := []*engine.StepRecord{
		{RunID: "run-1", Step: 1, Interval: 20, Rate: 1, End: 30, Source: "computed", Duration: time.Second},
		{RunID: "run-1", Step: 0, Interval: 10, Rate: 1, End: 10, Keff: &keff, KeffSigma: &sigma,
			Source: "computed", FeedbackIterations: 2, Checkpoint: "core.000.ckpt", Duration: 2 * time.Second},
	}
	for _, s := range steps {
		if err := store.RecordStep(ctx, s); err != nil {
			t.Fatalf("failed to record step: %v", err)
		}
	}

	// A restart records step 1 again.
	restarted := *steps[0]
	restarted.Source = "checkpoint"
	if err := store.RecordStep(ctx, &restarted); err != nil {
		t.Fatal(err)
	}

	got, err := store.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	want := []*engine.StepRecord{steps[1], &restarted}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListSteps() mismatch (-want +got):\n%s", diff)
	}

	orphan := &engine.StepRecord{RunID: "missing", Source: "computed"}
	if err := store.RecordStep(ctx, orphan); err == nil {
		t.Error("expected a step of an unknown run to fail")
	}
}

func TestCycles(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createRun(t, store, "run-1", engine.RunKindRecycle)

	norm, keff, sigma := 2e-6, 1.02, 0.0005
	cycles := []*engine.CycleRecord{
		{RunID: "run-1", Cycle: 0, Mode: "full", Keff: &keff, KeffSigma: &sigma},
		{RunID: "run-1", Cycle: 1, Mode: "accelerate-only", IsotopicsNorm: &norm},
		{RunID: "run-1", Cycle: 2, Mode: "full", Keff: &keff, KeffSigma: &sigma, Converged: true},
	}
	for _, c := range cycles {
		if err := store.RecordCycle(ctx, c); err != nil {
			t.Fatalf("failed to record cycle: %v", err)
		}
	}

	got, err := store.ListCycles(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list cycles: %v", err)
	}
	if diff := cmp.Diff(cycles, got); diff != "" {
		t.Errorf("ListCycles() mismatch (-want +got):\n%s", diff)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	got, err = store.ListCycles(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("cycles survived their run: %d", len(got))
	}
	if err := store.DeleteRun(ctx, "run-1"); !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("DeleteRun(deleted) error = %v", err)
	}
}

func ids(runs []*engine.RunRecord) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
