package plugin

import (
	"context"
	"fmt"

	"github.com/mocdown/mocdown/pkg/depletion"
	"github.com/mocdown/mocdown/pkg/engine"
)

// FeedbackFunction is the entry point a feedback script must define:
//
//	def update(state, parameters):
//	    # state.step, state.iteration, state.keff, state.keff_sigma,
//	    # state.powers {cell: W}, state.applied {cell: {"density", "temperature"}}
//	    return {cell: {"density": g_per_cc, "temperature": mev}}
//
// An empty or None result means the step has converged.
const FeedbackFunction = "update"

// Feedback runs a Starlark thermal-hydraulic model.
type Feedback struct {
	script     *Script
	parameters map[string]interface{}
}

var _ depletion.Feedback = (*Feedback)(nil)

// NewFeedback wraps script, which must define update.
func NewFeedback(script *Script, parameters map[string]interface{}) (*Feedback, error) {
	if !script.Has(FeedbackFunction) {
		return nil, engine.NewPreconditionError(fmt.Sprintf("feedback script defines no %s function", FeedbackFunction), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(script.Name())
	}
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	return &Feedback{script: script, parameters: parameters}, nil
}

// Update hands the transport results to the script.
func (f *Feedback) Update(ctx context.Context, in depletion.FeedbackInput) (map[int]depletion.CellUpdate, error) {
	state := Fields{
		"step":       in.Step,
		"iteration":  in.Iteration,
		"keff":       0.0,
		"keff_sigma": 0.0,
		"powers":     in.CellPowers,
		"applied":    appliedValue(in.Applied),
	}
	if in.Output != nil && in.Output.HasEigenvalue() {
		k := in.Output.Keff()
		state["keff"] = k.Value
		state["keff_sigma"] = k.Std()
	}

	out, err := f.script.Call(ctx, FeedbackFunction, state, f.parameters)
	if err != nil {
		return nil, err
	}
	return parseUpdates(out)
}

func appliedValue(applied map[int]depletion.CellUpdate) map[int]interface{} {
	out := make(map[int]interface{}, len(applied))
	for cell, u := range applied {
		m := map[string]interface{}{}
		if u.MassDensity != nil {
			m["density"] = *u.MassDensity
		}
		if u.Temperature != nil {
			m["temperature"] = *u.Temperature
		}
		out[cell] = m
	}
	return out
}

func parseUpdates(v interface{}) (map[int]depletion.CellUpdate, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		if len(val) == 0 {
			return nil, nil
		}
		return nil, badResult("cell keys must be integers")
	case map[int]interface{}:
		updates := make(map[int]depletion.CellUpdate, len(val))
		for cell, raw := range val {
			fields, ok := raw.(map[string]interface{})
			if !ok {
				return nil, badResult(fmt.Sprintf("cell %d: expected a dict", cell))
			}
			var u depletion.CellUpdate
			for name, fv := range fields {
				x, ok := toFloat(fv)
				if !ok {
					return nil, badResult(fmt.Sprintf("cell %d: %s is not a number", cell, name))
				}
				switch name {
				case "density":
					u.MassDensity = &x
				case "temperature":
					u.Temperature = &x
				default:
					return nil, badResult(fmt.Sprintf("cell %d: unknown field %q", cell, name))
				}
			}
			updates[cell] = u
		}
		return updates, nil
	default:
		return nil, badResult(fmt.Sprintf("expected a dict, got %T", v))
	}
}

func badResult(msg string) error {
	return engine.NewPermanentError("feedback script returned "+msg, nil).
		WithCode(engine.ErrCodeValidation).
		WithOperation("feedback update")
}
