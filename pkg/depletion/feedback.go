package depletion

import (
	"context"
	"sort"

	"github.com/mocdown/mocdown/pkg/results"
)

// CellUpdate is a density and temperature correction for one cell. A nil
// field leaves the card as it is.
type CellUpdate struct {
	// MassDensity in g/cm³.
	MassDensity *float64 `json:"mass_density,omitempty"`
	// Temperature in MeV.
	Temperature *float64 `json:"temperature,omitempty"`
}

// FeedbackInput is what a feedback model sees after one transport run.
type FeedbackInput struct {
	Step      int
	Iteration int
	Output    *results.Output
	// CellPowers maps each power cell to its thermal power in W.
	CellPowers map[int]float64
	// Applied are the updates the transport run was made with.
	Applied map[int]CellUpdate
}

// Feedback proposes cell updates from transport results. Returning no
// updates ends the transport/feedback iteration of a step.
type Feedback interface {
	Update(ctx context.Context, in FeedbackInput) (map[int]CellUpdate, error)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(ctx context.Context, in FeedbackInput) (map[int]CellUpdate, error)

// Update calls f.
func (f FeedbackFunc) Update(ctx context.Context, in FeedbackInput) (map[int]CellUpdate, error) {
	return f(ctx, in)
}

// mergeUpdates overlays updates on applied field by field.
func mergeUpdates(applied, updates map[int]CellUpdate) map[int]CellUpdate {
	out := make(map[int]CellUpdate, len(applied)+len(updates))
	for cell, u := range applied {
		out[cell] = u
	}
	for cell, u := range updates {
		cur := out[cell]
		if u.MassDensity != nil {
			cur.MassDensity = u.MassDensity
		}
		if u.Temperature != nil {
			cur.Temperature = u.Temperature
		}
		out[cell] = cur
	}
	return out
}

func sortedCells(m map[int]CellUpdate) []int {
	cells := make([]int, 0, len(m))
	for c := range m {
		cells = append(cells, c)
	}
	sort.Ints(cells)
	return cells
}
