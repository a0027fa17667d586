package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError_Classification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		transient    bool
		precondition bool
		permanent    bool
	}{
		{"transient", NewTransientError("solver crashed", nil), true, false, false},
		{"precondition", NewPreconditionError("empty TAPE5", nil), false, true, false},
		{"permanent", NewPermanentError("bad version", nil), false, false, true},
		{"wrapped", fmt.Errorf("step 3: %w", NewTransientError("x", nil)), true, false, false},
		{"plain", errors.New("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsPrecondition(tt.err); got != tt.precondition {
				t.Errorf("IsPrecondition() = %v, want %v", got, tt.precondition)
			}
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.permanent)
			}
			if got := IsRetryable(tt.err); got != tt.transient {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestEngineError_IsMatchesClassAndCode(t *testing.T) {
	sentinel := &EngineError{Class: ErrorClassPrecondition, Code: ErrCodeCardNotMatched}
	err := fmt.Errorf("newput: %w",
		NewPreconditionError("card not found", nil).WithCode(ErrCodeCardNotMatched).WithResource("cell 10"))

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is() = false, want true")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassPermanent, Code: ErrCodeCardNotMatched}) {
		t.Error("errors.Is() matched a different class")
	}
	if !HasCode(err, ErrCodeCardNotMatched) {
		t.Error("HasCode() = false, want true")
	}
}

func TestEngineError_Message(t *testing.T) {
	err := NewTransientError("solver failed", errors.New("exit status 1")).
		WithResource("cell 4").
		WithOperation("transmute").
		WithDetail("step", 2)

	msg := err.Error()
	for _, want := range []string{"[transient]", "solver failed", "exit status 1", "resource=cell 4", "operation=transmute"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if err.Details["step"] != 2 {
		t.Errorf("Details[step] = %v", err.Details["step"])
	}
}
