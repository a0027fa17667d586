package engine

import (
	"context"
	"fmt"
)

// RunStatus is the lifecycle state of a depletion or recycle run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is executing or was interrupted
	// without a chance to record its end.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted indicates the run finished every step or converged.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed indicates the run stopped on an error.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was interrupted by the user.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// StatusOf returns the status of a run that ended with err under ctx.
func StatusOf(ctx context.Context, err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusCompleted
	case ctx.Err() != nil:
		return RunStatusCancelled
	default:
		return RunStatusFailed
	}
}
