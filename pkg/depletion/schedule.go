package depletion

import (
	"fmt"
	"math"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

const secondsPerDay = 60 * 60 * 24

// Step is one depletion interval.
type Step struct {
	// Interval is the step length in days.
	Interval float64 `json:"interval"`
	// Rate is the power in MWth or the flux in n/cm²·s.
	Rate float64 `json:"rate"`
	// End is the cumulative time in days at the end of the step.
	End float64 `json:"end"`
}

// Schedule is the ordered list of depletion steps.
type Schedule struct {
	PowerMode bool
	Steps     []Step
}

// Len returns the number of steps.
func (s *Schedule) Len() int {
	return len(s.Steps)
}

// IsDecay reports whether step i burns at zero rate.
func (s *Schedule) IsDecay(i int) bool {
	return s.Steps[i].Rate == 0
}

// Units names the unit of the burn rate.
func (s *Schedule) Units() string {
	if s.PowerMode {
		return "MWth"
	}
	return "n/cm²·s"
}

// NewSchedule builds the schedule from explicit step intervals or by
// splitting a total depletion time into doubling steps. heavyMetalMT is the
// heavy-metal loading used to convert a power into a burnup rate.
func NewSchedule(cfg config.DepletionConfig, heavyMetalMT float64) (*Schedule, error) {
	s := &Schedule{PowerMode: cfg.PowerMode()}

	var intervals, rates []float64
	switch {
	case len(cfg.StepTimeIntervals) > 0:
		intervals = cfg.StepTimeIntervals
		switch {
		case len(cfg.StepPowers) > 0:
			rates = cfg.StepPowers
		case len(cfg.StepFluxes) > 0:
			rates = cfg.StepFluxes
		default:
			single := cfg.Power
			if !s.PowerMode {
				single = cfg.Flux
			}
			rates = repeat(single, len(intervals))
		}
		if len(rates) != len(intervals) {
			return nil, fmt.Errorf("%d rates for %d step intervals", len(rates), len(intervals))
		}
	case cfg.Time > 0:
		rate, perDay, minimum, maximum := cfg.Flux, cfg.Flux*secondsPerDay, cfg.MinimumFluenceStep, cfg.MaximumFluenceStep
		if s.PowerMode {
			rate, minimum, maximum = cfg.Power, cfg.MinimumBurnupStep, cfg.MaximumBurnupStep
			// MWd/MTHM per day
			perDay = uncertainty.SafeDivide(cfg.Power, heavyMetalMT)
		}
		if perDay > 0 {
			for _, amount := range doublingSteps(cfg.Time*perDay, minimum, maximum) {
				intervals = append(intervals, amount/perDay)
			}
		} else {
			intervals = []float64{cfg.Time}
		}
		rates = repeat(rate, len(intervals))
	}

	if cfg.TerminalDecayTime > 0 {
		intervals = append(intervals, cfg.TerminalDecayTime*deck.DaysPerYear)
		rates = append(rates, 0)
	}

	var end float64
	for i, interval := range intervals {
		end += interval
		s.Steps = append(s.Steps, Step{Interval: interval, Rate: rates[i], End: end})
	}
	return s, nil
}

// doublingSteps splits total into steps that start at minimum and double
// up to maximum, the last one taking whatever is left.
func doublingSteps(total, minimum, maximum float64) []float64 {
	// Remainders below this are rounding residue.
	tolerance := total * 1e-12
	var out []float64
	step := minimum
	for left := total; left > tolerance; {
		step = math.Min(step, left)
		out = append(out, step)
		left -= step
		step = math.Min(2*step, maximum)
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
