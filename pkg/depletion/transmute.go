package depletion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/origen"
	"github.com/mocdown/mocdown/pkg/solver"
	"github.com/mocdown/mocdown/pkg/telemetry"
)

// transmute depletes every burn cell over the current step, each in its own
// scratch directory, at most cfg.Depletion.Threads at a time.
func (d *Depleter) transmute(ctx context.Context, tr *transportResult) error {
	step := d.schedule.Steps[d.step]
	logger := d.logger.WithStep(d.step)

	if step.Interval == 0 {
		logger.Info("zero-length step, skipping transmutation")
		d.decayPowers[d.step+1] = d.decayPowers[d.step]
		d.cells = make(map[int]*CellState, len(d.burnCells))
		for _, n := range d.burnCells {
			d.cells[n] = &CellState{
				DecayPower:     d.decayPowers[d.step][n],
				NextDecayPower: d.decayPowers[d.step][n],
			}
		}
		return nil
	}

	var mu sync.Mutex
	cells := make(map[int]*CellState, len(d.burnCells))
	tel := telemetry.FromTelemetryContext(ctx)

	tasks := make([]engine.Task, 0, len(d.burnCells))
	for _, n := range d.burnCells {
		n := n
		tasks = append(tasks, engine.Task{
			ID: fmt.Sprintf("cell-%d", n),
			Run: func(ctx context.Context) error {
				if tel != nil {
					tel.Metrics.TransmutationStarted()
					defer tel.Metrics.TransmutationDone()
				}
				state, err := d.transmuteCell(ctx, tr, n)
				if err != nil {
					return err
				}
				mu.Lock()
				cells[n] = state
				mu.Unlock()
				return nil
			},
		})
	}

	threads := d.cfg.Depletion.Threads
	if threads <= 0 {
		threads = 1
	}
	logger.Infof("transmuting %d burn cell(s) on %d thread(s)", len(tasks), threads)
	pool := engine.NewPool(threads, engine.WithObserver(func(id string, attempt int, duration time.Duration, err error) {
		if err != nil {
			logger.WithField("task", id).WithError(err).Warn("transmutation failed")
			return
		}
		logger.WithField("task", id).Debugf("transmuted in %s", duration)
	}))
	if err := pool.Run(ctx, tasks); err != nil {
		return err
	}

	d.cells = cells
	d.calcs = make(map[int]*origen.Calculation, len(cells))
	next := make(map[int]float64, len(cells))
	for n, state := range cells {
		d.calcs[n] = state.Calculation
		next[n] = state.NextDecayPower
	}
	d.decayPowers[d.step+1] = next
	return nil
}

// transmuteCell writes the four depletion inputs of cell, runs the solver
// and reads back the depleted inventory.
func (d *Depleter) transmuteCell(ctx context.Context, tr *transportResult, n int) (*CellState, error) {
	step := d.schedule.Steps[d.step]
	logger := d.logger.WithStep(d.step).WithCell(n)

	var saved *CellState
	if d.transmuteOnly && d.checkpoint != nil {
		saved = d.checkpoint.Cells[n]
		if saved == nil || saved.Calculation == nil {
			return nil, engine.NewPreconditionError(fmt.Sprintf("checkpoint of step %d has no depletion inputs for cell %d", d.step, n), nil).
				WithCode(engine.ErrCodeMissingSolverInput).
				WithOperation("replay step")
		}
	}

	state := &CellState{DecayPower: d.decayPowers[d.step][n]}
	cell := tr.deck.Cell(n)
	if cell == nil {
		cell = d.original.Cell(n)
	}
	state.Volume = cell.Volume
	if prev, ok := d.calcs[n]; ok {
		state.ZamMoles = prev.ZamMoles
	} else {
		state.ZamMoles = make(map[int]float64)
		for za, moles := range cell.ZaMoles() {
			state.ZamMoles[deck.ZaToZam(za)] += moles
		}
	}

	var in origen.Inputs
	in.TAPE4 = origen.PunchCard(d.libs, state.ZamMoles)

	switch {
	case saved != nil:
		in.TAPE5 = saved.Calculation.TAPE5
		in.TAPE9 = saved.Calculation.TAPE9
		in.TAPE10 = saved.Calculation.TAPE10
		state.Micros = saved.Micros
		state.BurnRate = saved.BurnRate
	default:
		in.TAPE10 = d.libs.Photon
		if tr.output != nil && !d.schedule.IsDecay(d.step) {
			state.Micros = d.micros(tr, n)
			if d.schedule.PowerMode {
				// MW
				state.BurnRate = tr.output.DepletionPower(n, d.cfg.Transmute.IsOrigen2()) * 1e-6
			} else {
				state.BurnRate = tr.output.ScalarFlux(n).Total.Value
			}
		}
		tape9, err := d.libs.Library(state.Micros)
		if err != nil {
			return nil, engine.NewPermanentError("failed to build cross-section library", err).
				WithCode(engine.ErrCodeMissingSolverInput).
				WithOperation("transmute").
				WithDetail("cell", n)
		}
		in.TAPE9 = tape9
		tape5, err := origen.ControlFile{
			LibraryIDs: d.libs.LibraryIDs(),
			PowerMode:  d.schedule.PowerMode,
			Interval:   step.Interval,
			Rate:       state.BurnRate,
		}.Format()
		if err != nil {
			return nil, engine.NewPermanentError("failed to build control file", err).
				WithCode(engine.ErrCodeMissingSolverInput).
				WithOperation("transmute").
				WithDetail("cell", n)
		}
		in.TAPE5 = tape5
	}

	dir := filepath.Join(os.TempDir(), "mocdown-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, engine.NewTransientError("failed to create transmutation directory", err).
			WithResource(dir).
			WithOperation("transmute")
	}
	defer func() {
		if err := origen.Cleanup(dir); err != nil {
			logger.WithError(err).Warn("failed to clean transmutation directory")
		}
	}()

	if err := in.Write(dir); err != nil {
		return nil, err
	}
	if err := origen.CheckInputs(dir); err != nil {
		return nil, err
	}

	logger.Debugf("running depletion solver in %s", dir)
	_, err := d.runner.Run(ctx, solver.Transmute, solver.Invocation{
		Dir:  dir,
		Vars: map[string]string{"logdir": d.dir + string(filepath.Separator)},
	})
	if err != nil {
		return nil, err
	}

	calc, err := origen.ReadCalculation(dir, state.Volume)
	if err != nil {
		return nil, err
	}
	calc.Micros = state.Micros
	state.Calculation = calc
	state.NextDecayPower = d.calculationDecayPower(calc)
	return state, nil
}

// micros collects the one-group cross sections of cell from the
// reaction-rate multipliers of the transmutation tally.
func (d *Depleter) micros(tr *transportResult, n int) origen.Micros {
	t := tr.output.Deck().Tally(deck.CellFluxMultiplier, d.transmuteTally)
	if t == nil {
		return nil
	}
	out := make(origen.Micros)
	for _, bin := range t.BinsFor(n) {
		if bin.Material == 0 {
			continue
		}
		zaid, ok := d.materialZaids[bin.Material]
		if !ok {
			continue
		}
		mt, ok := bin.ReactionNumber()
		if !ok {
			continue
		}
		key := origen.MicroKey{Zam: deck.ZaidToZam(zaid), MT: mt}
		out[key] = tr.output.MicroscopicCrossSection(n, bin.Material, bin.Reaction).Total.Value
	}
	return out
}
