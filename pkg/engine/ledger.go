package engine

import (
	"context"
	"time"
)

// Run kinds.
const (
	RunKindDeplete = "deplete"
	RunKindRecycle = "recycle"
)

// RunRecord is one invocation of the depletion or recycle orchestrator.
type RunRecord struct {
	ID          string
	Kind        string
	Deck        string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       *string
}

// StepRecord is one completed depletion step.
type StepRecord struct {
	RunID string
	Cycle int
	Step  int

	Interval float64 // days
	Rate     float64 // MWth or n/cm²·s
	End      float64 // days

	// Keff is nil when the step ran no eigenvalue calculation.
	Keff      *float64
	KeffSigma *float64

	// Source is "computed", "checkpoint" or "replay".
	Source             string
	FeedbackIterations int
	Checkpoint         string
	Duration           time.Duration
}

// CycleRecord is one completed recycle cycle.
type CycleRecord struct {
	RunID string
	Cycle int
	Mode  string

	// IsotopicsNorm is nil when the cycle was not compared.
	IsotopicsNorm *float64
	Keff          *float64
	KeffSigma     *float64
	Converged     bool
}

// Ledger records runs, steps and cycles as they complete.
type Ledger interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error
	RecordStep(ctx context.Context, step *StepRecord) error
	RecordCycle(ctx context.Context, cycle *CycleRecord) error
}
