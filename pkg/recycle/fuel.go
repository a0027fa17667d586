package recycle

import (
	"context"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// FuelInput is what a fuel processor sees at the end of a cycle.
type FuelInput struct {
	Cycle int
	// BOC is the deck the cycle started from.
	BOC *deck.Deck
	// EOC is the end-of-cycle transport input.
	EOC     string
	Keff    uncertainty.Scalar
	HasKeff bool
}

// FuelProcessor reprocesses and recharges the fuel of a finished cycle,
// returning the deck the next cycle starts from.
type FuelProcessor interface {
	Process(ctx context.Context, in FuelInput) (string, error)
}

// FuelProcessorFunc adapts a function to FuelProcessor.
type FuelProcessorFunc func(ctx context.Context, in FuelInput) (string, error)

// Process calls f.
func (f FuelProcessorFunc) Process(ctx context.Context, in FuelInput) (string, error) {
	return f(ctx, in)
}

// CarryOver starts the next cycle from the end-of-cycle deck unchanged.
var CarryOver = FuelProcessorFunc(func(_ context.Context, in FuelInput) (string, error) {
	return in.EOC, nil
})
