package plugin

import (
	"context"
	"fmt"

	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/recycle"
)

// FuelFunction is the entry point a fuel processing script must define:
//
//	def process(state, parameters):
//	    # state.cycle, state.boc, state.eoc, state.keff, state.keff_sigma
//	    return next_deck_text
const FuelFunction = "process"

// FuelProcessor reprocesses fuel with a Starlark script.
type FuelProcessor struct {
	script     *Script
	parameters map[string]interface{}
}

var _ recycle.FuelProcessor = (*FuelProcessor)(nil)

// NewFuelProcessor wraps script, which must define process.
func NewFuelProcessor(script *Script, parameters map[string]interface{}) (*FuelProcessor, error) {
	if !script.Has(FuelFunction) {
		return nil, engine.NewPreconditionError(fmt.Sprintf("fuel script defines no %s function", FuelFunction), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(script.Name())
	}
	if parameters == nil {
		parameters = map[string]interface{}{}
	}
	return &FuelProcessor{script: script, parameters: parameters}, nil
}

// Process returns the deck text produced by the script.
func (f *FuelProcessor) Process(ctx context.Context, in recycle.FuelInput) (string, error) {
	state := Fields{
		"cycle":      in.Cycle,
		"boc":        "",
		"eoc":        in.EOC,
		"keff":       nil,
		"keff_sigma": nil,
	}
	if in.BOC != nil {
		state["boc"] = in.BOC.Raw()
	}
	if in.HasKeff {
		state["keff"] = in.Keff.Value
		state["keff_sigma"] = in.Keff.Std()
	}

	out, err := f.script.Call(ctx, FuelFunction, state, f.parameters)
	if err != nil {
		return "", err
	}
	text, ok := out.(string)
	if !ok || text == "" {
		return "", engine.NewPermanentError(fmt.Sprintf("fuel script returned %T, expected deck text", out), nil).
			WithCode(engine.ErrCodeValidation).
			WithOperation("process fuel")
	}
	return text, nil
}
