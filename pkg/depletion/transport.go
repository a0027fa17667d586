package depletion

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/results"
	"github.com/mocdown/mocdown/pkg/solver"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// transportResult is the converged transport of one step.
type transportResult struct {
	// input is the transport input the step converged with.
	input string
	// deck is the parsed input.
	deck *deck.Deck
	// output is nil when transport was not run.
	output *results.Output
}

// transportConvergence runs transport, and with a feedback model iterates
// until the model proposes no more updates.
func (d *Depleter) transportConvergence(ctx context.Context) (*transportResult, error) {
	d.history = nil
	if d.transmuteOnly && d.checkpoint != nil {
		d.applied = d.checkpoint.Applied
	}
	logger := d.logger.WithStep(d.step)

	var tr *transportResult
	for d.iteration = 0; ; d.iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		input, err := d.prepareTransport(false)
		if err != nil {
			return nil, err
		}
		tr, err = d.runTransport(ctx, input)
		if err != nil {
			return nil, err
		}
		if d.feedback == nil || tr.output == nil {
			break
		}

		updates, err := d.feedback.Update(ctx, FeedbackInput{
			Step:       d.step,
			Iteration:  d.iteration,
			Output:     tr.output,
			CellPowers: d.cellPowers(tr.output),
			Applied:    d.applied,
		})
		if err != nil {
			return nil, fmt.Errorf("feedback failed at step %d iteration %d: %w", d.step, d.iteration, err)
		}
		if len(updates) == 0 {
			logger.Debugf("feedback converged after %d iteration(s)", d.iteration+1)
			break
		}
		d.history = append(d.history, updates)
		d.applied = mergeUpdates(d.applied, updates)
		logger.Infof("feedback updated %d cell(s) at iteration %d", len(updates), d.iteration)

		if limit := d.cfg.Depletion.MaxFeedbackIterations; limit > 0 && d.iteration+1 >= limit {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("feedback did not converge within %d iteration(s)", limit), nil).
				WithCode(engine.ErrCodeNotConverged).
				WithOperation("transport").
				WithDetail("step", d.step)
		}
	}

	if d.feedback != nil {
		if err := d.linkIteration(tr.output != nil); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

// linkIteration points the step's base file names at the last iteration.
func (d *Depleter) linkIteration(withOutput bool) error {
	exts := []string{"i"}
	if withOutput {
		exts = append(exts, "o")
	}
	for _, ext := range exts {
		target, link := d.fileName(ext, false), d.fileName(ext, true)
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := os.Symlink(filepath.Base(target), link); err != nil {
			return fmt.Errorf("failed to link %s: %w", link, err)
		}
	}
	return nil
}

// runTransport runs the transport solver on input and normalizes the
// results to the step's burn rate. Decay steps are not transported unless
// forced, and replays never are; both return the parsed input alone.
func (d *Depleter) runTransport(ctx context.Context, input string) (*transportResult, error) {
	stem := strings.TrimSuffix(input, ".i")
	for _, ext := range []string{"o", "src", "tpe"} {
		if err := os.Remove(stem + "." + ext); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := d.copySource(stem + ".src"); err != nil {
		return nil, err
	}

	xs := d.original.XsDir()
	step := d.schedule.Steps[d.step]
	decay := d.schedule.IsDecay(d.step) && !d.cfg.Depletion.ForceDecayTransport
	if decay || d.transmuteOnly {
		dk, err := deck.ReadFile(input, deck.WithXsDir(xs))
		if err != nil {
			return nil, err
		}
		d.stepKeff = false
		return &transportResult{input: input, deck: dk}, nil
	}

	d.logger.WithStep(d.step).Infof("running transport for %s", filepath.Base(input))
	_, err := d.runner.Run(ctx, solver.Transport, solver.Invocation{
		Dir: d.dir,
		Vars: map[string]string{
			"baseName": filepath.Base(stem),
			"xsdir":    d.cfg.Transport.XsDir,
		},
	})
	if err != nil {
		return nil, err
	}

	out, err := results.ReadFile(stem+".o",
		results.WithDeckOptions(deck.WithXsDir(xs)),
		results.WithMassDensityCutoff(d.cfg.Depletion.MassDensityCutoff),
	)
	if err != nil {
		return nil, err
	}

	if step.Rate > 0 {
		rate, err := d.computeSourceRate(out, step.Rate)
		if err != nil {
			return nil, err
		}
		out.SetSourceRate(rate)
	}
	d.sourceRate = out.SourceRate()
	d.stepKeff = out.HasEigenvalue()
	if out.HasEigenvalue() {
		d.keff = out.Keff()
		d.hasKeff = true
		d.logger.WithStep(d.step).Infof("keff = %s", d.keff)
	}

	for _, ext := range []string{"src", "tpe"} {
		if err := os.Remove(stem + "." + ext); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return &transportResult{input: input, deck: out.Deck(), output: out}, nil
}

func (d *Depleter) copySource(dst string) error {
	src := d.cfg.Transport.SourceFile
	if src == "" {
		return nil
	}
	if !filepath.IsAbs(src) {
		src = filepath.Join(d.dir, src)
	}
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// computeSourceRate returns the neutrons per second that reproduce rate.
// In power mode the decay heat of the burn cells is subtracted from the
// requested power before dividing by the prompt power per source neutron.
// In flux mode the rate is divided by the volume-averaged flux per source
// neutron of the tallied cells.
func (d *Depleter) computeSourceRate(out *results.Output, rate float64) (float64, error) {
	if d.schedule.PowerMode {
		var delayed float64
		for _, p := range d.decayPowers[d.step] {
			delayed += p
		}
		var prompt float64
		for _, n := range out.Deck().PowerCells(d.cfg.Depletion.MassDensityCutoff) {
			p, err := d.promptPower(out, n)
			if err != nil {
				return 0, err
			}
			prompt += p
		}
		if prompt == 0 {
			return 0, engine.NewPermanentError("transport output has no prompt power to normalize", nil).
				WithCode(engine.ErrCodeMalformedOutput).
				WithResource(out.Deck().FileName).
				WithOperation("normalize transport")
		}
		return (rate*1e6 - delayed) / prompt, nil
	}

	var tlv, volume float64
	for _, n := range out.Deck().TallyCells(deck.CellFlux) {
		s, v := out.TrackLengthVolume(n)
		tlv += s.Total.Value
		volume += v
	}
	return uncertainty.SafeDivide(rate, uncertainty.SafeDivide(tlv, volume)), nil
}

// promptPower is the thermal power of cell in W per source neutron, from
// the energy-deposition tallies of coupled runs or the Q tables otherwise.
func (d *Depleter) promptPower(out *results.Output, cell int) (float64, error) {
	if out.Deck().IsCoupled() {
		return out.ParticlePower(cell, deck.CellEnergyDeposition).Total.Value, nil
	}
	return out.QPower(cell, d.cfg.Depletion.QValueMethod)
}

// cellPowers returns the thermal power of every power cell in W, including
// decay heat of burn cells when it is enabled.
func (d *Depleter) cellPowers(out *results.Output) map[int]float64 {
	powers := make(map[int]float64)
	for _, n := range out.Deck().PowerCells(d.cfg.Depletion.MassDensityCutoff) {
		p, err := d.promptPower(out, n)
		if err != nil {
			d.logger.WithCell(n).WithError(err).Warn("failed to compute cell power")
			continue
		}
		powers[n] = p + d.decayPowers[d.step][n]
	}
	return powers
}
