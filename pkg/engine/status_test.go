package engine

import (
	"context"
	"errors"
	"testing"
)

func TestRunStatus(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
		valid    bool
	}{
		{RunStatusRunning, false, true},
		{RunStatusCompleted, true, true},
		{RunStatusFailed, true, true},
		{RunStatusCancelled, true, true},
		{RunStatus("succeeded"), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if err := tt.status.Validate(); (err == nil) != tt.valid {
				t.Errorf("Validate() error = %v, want valid %v", err, tt.valid)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	ctx := context.Background()
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	if got := StatusOf(ctx, nil); got != RunStatusCompleted {
		t.Errorf("StatusOf(nil) = %s", got)
	}
	if got := StatusOf(ctx, errors.New("solver exited 1")); got != RunStatusFailed {
		t.Errorf("StatusOf(error) = %s", got)
	}
	if got := StatusOf(cancelled, context.Canceled); got != RunStatusCancelled {
		t.Errorf("StatusOf(cancelled) = %s", got)
	}
}
