// Package recycle searches for an equilibrium fuel cycle by repeating
// depletions of a deck, each cycle starting from the reprocessed fuel of
// the previous one.
//
// The first cycle runs transport and transmutation in full. While the
// beginning-of-cycle isotopics keep moving, cycles are accelerated: they
// replay the transport results of the previous cycle and only transmute.
// Once the isotopics settle, one more full cycle checks the eigenvalue
// against the last full cycle; the search ends when both agree within
// their tolerances.
package recycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/depletion"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/telemetry"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// Mode is how a cycle is depleted.
type Mode string

const (
	// Full runs transport and transmutation.
	Full Mode = "full"
	// AccelerateOnly replays the previous cycle's checkpoints and only
	// transmutes.
	AccelerateOnly Mode = "accelerate-only"
)

// Recycler runs the equilibrium search on one deck file.
type Recycler struct {
	cfg      *config.Config
	deckPath string
	dir      string
	base     string

	deckOpts      []deck.Option
	depletionOpts []depletion.Option
	fuel          FuelProcessor
	ledger        engine.Ledger
	restart       bool
	runID         string

	logger *telemetry.Logger
}

// Option configures a Recycler.
type Option func(*Recycler)

// WithDeckOptions are applied whenever a cycle's deck is read.
func WithDeckOptions(opts ...deck.Option) Option {
	return func(r *Recycler) {
		r.deckOpts = append(r.deckOpts, opts...)
	}
}

// WithDepletionOptions are applied to the depletion of every cycle.
func WithDepletionOptions(opts ...depletion.Option) Option {
	return func(r *Recycler) {
		r.depletionOpts = append(r.depletionOpts, opts...)
	}
}

// WithFuelProcessor replaces CarryOver.
func WithFuelProcessor(f FuelProcessor) Option {
	return func(r *Recycler) {
		r.fuel = f
	}
}

// WithLedger records the run, its cycles and their steps.
func WithLedger(l engine.Ledger) Option {
	return func(r *Recycler) {
		r.ledger = l
	}
}

// WithRestart restarts the first cycle from its checkpoints.
func WithRestart(restart bool) Option {
	return func(r *Recycler) {
		r.restart = restart
	}
}

// Cycle summarizes one finished cycle.
type Cycle struct {
	Index int
	Mode  Mode
	// IsotopicsNorm is set when the cycle's isotopics were compared with
	// the previous cycle's.
	IsotopicsNorm *float64
	Keff          uncertainty.Scalar
	HasKeff       bool
	Archived      []string
}

// Result is the outcome of an equilibrium search.
type Result struct {
	RunID string
	// Deck is the beginning-of-equilibrium-cycle input, also written to
	// the deck file.
	Deck   string
	Cycles []Cycle
}

// New prepares the equilibrium search of the deck at deckPath.
func New(cfg *config.Config, deckPath string, opts ...Option) *Recycler {
	r := &Recycler{
		cfg:      cfg,
		deckPath: deckPath,
		dir:      filepath.Dir(deckPath),
		base:     strings.TrimSuffix(deckPath, filepath.Ext(deckPath)),
		fuel:     CarryOver,
		runID:    uuid.NewString(),
		logger:   telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID identifies the search in the ledger and telemetry.
func (r *Recycler) RunID() string {
	return r.runID
}

// Run recycles until isotopics and eigenvalue have converged, or fails
// with ErrCodeNotConverged once the cycle cap is reached.
func (r *Recycler) Run(ctx context.Context) (res *Result, err error) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		var span trace.Span
		ctx, span = tel.Tracer.StartRunSpan(ctx, r.runID, engine.RunKindRecycle)
		defer span.End()
	}
	ic := telemetry.StartOperation(ctx, "recycle.run", attribute.String("deck", r.deckPath))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx
	r.logger = ic.Logger.NewComponentLogger("recycle").WithRunID(r.runID)

	start := time.Now()
	if err := r.startRun(ctx, tel); err != nil {
		return nil, err
	}
	defer func() { r.finishRun(ctx, tel, start, err) }()

	r.logger.Info("recycling to equilibrium")
	res = &Result{RunID: r.runID}

	var (
		mode        = Full
		isotopicsOK = true // the first cycle has nothing to compare against
		lastFull    *Cycle
		processed   *deck.Deck
	)
	for index := 0; ; index++ {
		if index >= r.cfg.Recycle.MaxCycles {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("no equilibrium after %d cycle(s)", r.cfg.Recycle.MaxCycles), nil).
				WithCode(engine.ErrCodeNotConverged).
				WithResource(r.deckPath).
				WithOperation("recycle")
		}

		cycle, text, err := r.runCycle(ctx, index, mode)
		if err != nil {
			return nil, err
		}

		previous := processed
		processed, err = deck.Parse(r.deckPath, text, r.deckOpts...)
		if err != nil {
			return nil, engine.NewPermanentError("fuel processor produced an unreadable deck", err).
				WithCode(engine.ErrCodeMalformedDeck).
				WithResource(r.deckPath)
		}

		var converged bool
		if !isotopicsOK {
			isotopicsOK, err = r.isotopicsConverged(cycle, previous, processed)
			if err != nil {
				return nil, err
			}
			mode = AccelerateOnly
			if isotopicsOK {
				mode = Full
			}
		} else {
			// Only full cycles get here.
			converged = r.keffConverged(cycle, lastFull)
			c := *cycle
			lastFull = &c
			isotopicsOK = converged
			mode = AccelerateOnly
		}

		r.recordCycle(ctx, tel, cycle, converged)
		res.Cycles = append(res.Cycles, *cycle)

		if err := r.writeDeck(text); err != nil {
			return nil, err
		}
		res.Deck = text
		if converged {
			r.logger.Infof("equilibrium reached after %d cycle(s)", index+1)
			return res, nil
		}
	}
}

// runCycle depletes one cycle, processes its fuel and archives it. It
// returns the deck the next cycle starts from.
func (r *Recycler) runCycle(ctx context.Context, index int, mode Mode) (*Cycle, string, error) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		var span trace.Span
		ctx, span = tel.Tracer.StartCycleSpan(ctx, index, string(mode))
		defer span.End()
	}
	logger := r.logger.WithCycle(index).WithField("mode", string(mode))

	if mode == AccelerateOnly && index > 0 {
		n, err := r.linkPrevious(index)
		if err != nil {
			return nil, "", err
		}
		logger.Debugf("linked %d checkpoint(s) of cycle %d", n, index-1)
	}

	boc, err := deck.ReadFile(r.deckPath, r.deckOpts...)
	if err != nil {
		return nil, "", err
	}

	opts := append([]depletion.Option{}, r.depletionOpts...)
	opts = append(opts,
		depletion.WithRun(r.runID, index),
		depletion.WithRestart(r.restart && index == 0),
		depletion.WithTransmuteOnly(mode == AccelerateOnly),
	)
	if r.ledger != nil {
		opts = append(opts, depletion.WithLedger(r.ledger))
	}
	d, err := depletion.New(r.cfg, boc, opts...)
	if err != nil {
		return nil, "", err
	}

	logger.Infof("depleting %s cycle %d", mode, index)
	dr, err := d.Run(ctx)
	if err != nil {
		return nil, "", err
	}

	eoc, err := os.ReadFile(dr.Deck)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read end-of-cycle deck: %w", err)
	}
	text, err := r.fuel.Process(ctx, FuelInput{
		Cycle:   index,
		BOC:     boc,
		EOC:     string(eoc),
		Keff:    dr.Keff,
		HasKeff: dr.HasKeff,
	})
	if err != nil {
		return nil, "", fmt.Errorf("fuel processing of cycle %d: %w", index, err)
	}

	archived, err := r.archive(index)
	if err != nil {
		return nil, "", err
	}
	logger.Debugf("archived %d file(s) into %s", len(archived), CycleDir(r.dir, index))

	return &Cycle{
		Index:    index,
		Mode:     mode,
		Keff:     dr.Keff,
		HasKeff:  dr.HasKeff,
		Archived: archived,
	}, text, nil
}

func (r *Recycler) isotopicsConverged(cycle *Cycle, previous, current *deck.Deck) (bool, error) {
	logger := r.logger.WithCycle(cycle.Index)
	if previous == nil || current == nil {
		logger.Info("isotopics convergence undefined, continuing accelerated cycles")
		return false, nil
	}
	p := r.cfg.Recycle
	norm, err := IsotopicsNorm(previous.ZaMoles(), current.ZaMoles(), p.IsotopicsNorm)
	if err != nil {
		return false, engine.NewPermanentError("invalid isotopics norm", err).WithCode(engine.ErrCodeValidation)
	}
	cycle.IsotopicsNorm = &norm
	sym := NormSymbol(p.IsotopicsNorm)
	if norm > p.IsotopicsTolerance {
		logger.Infof("isotopics convergence failed (|Δiso|%s = %.1E > %.1E), continuing accelerated cycles",
			sym, norm, p.IsotopicsTolerance)
		return false, nil
	}
	logger.Infof("isotopics converged (|Δiso|%s = %.1E ≤ %.1E), performing one more full cycle",
		sym, norm, p.IsotopicsTolerance)
	return true, nil
}

func (r *Recycler) keffConverged(cycle, lastFull *Cycle) bool {
	logger := r.logger.WithCycle(cycle.Index)
	if lastFull == nil || !lastFull.HasKeff || !cycle.HasKeff {
		logger.Info("eigenvalue convergence undefined, continuing accelerated cycles")
		return false
	}
	delta, sigma := KeffDifference(lastFull.Keff, cycle.Keff)
	tol := r.cfg.Recycle.KeffTolerance
	if delta > tol {
		logger.Infof("eigenvalue convergence failed (Δk = %.5f ± %.5f > %.5f), continuing accelerated cycles",
			delta, sigma, tol)
		return false
	}
	logger.Infof("eigenvalue converged (Δk = %.5f ± %.5f ≤ %.5f)", delta, sigma, tol)
	return true
}

// writeDeck makes text the input of the next cycle.
func (r *Recycler) writeDeck(text string) error {
	if err := os.WriteFile(r.deckPath, []byte(text), 0o644); err != nil {
		return engine.NewTransientError("failed to write next cycle deck", err).
			WithResource(r.deckPath)
	}
	return nil
}

func (r *Recycler) recordCycle(ctx context.Context, tel *telemetry.Telemetry, c *Cycle, converged bool) {
	rec := &engine.CycleRecord{
		RunID:         r.runID,
		Cycle:         c.Index,
		Mode:          string(c.Mode),
		IsotopicsNorm: c.IsotopicsNorm,
		Converged:     converged,
	}
	var keff float64
	if c.HasKeff {
		keff = c.Keff.Value
		sigma := c.Keff.Std()
		rec.Keff = &keff
		rec.KeffSigma = &sigma
	}
	if tel != nil {
		tel.Metrics.RecordCycle(string(c.Mode))
		tel.Events.PublishCycle(r.runID, c.Index, string(c.Mode), keff)
	}
	if r.ledger == nil {
		return
	}
	if err := r.ledger.RecordCycle(ctx, rec); err != nil {
		r.logger.WithError(err).Warn("failed to record cycle")
	}
}

func (r *Recycler) startRun(ctx context.Context, tel *telemetry.Telemetry) error {
	if tel != nil {
		tel.Metrics.RecordRunStarted(engine.RunKindRecycle)
	}
	if r.ledger == nil {
		return nil
	}
	return r.ledger.CreateRun(ctx, &engine.RunRecord{
		ID:        r.runID,
		Kind:      engine.RunKindRecycle,
		Deck:      r.deckPath,
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
}

func (r *Recycler) finishRun(ctx context.Context, tel *telemetry.Telemetry, start time.Time, runErr error) {
	status := engine.StatusOf(ctx, runErr)
	var msg *string
	if runErr != nil {
		m := runErr.Error()
		msg = &m
	}
	if tel != nil {
		tel.Metrics.RecordRunCompleted(engine.RunKindRecycle, string(status), time.Since(start))
		tel.Events.PublishRunCompleted(r.runID, time.Since(start), runErr)
	}
	if r.ledger == nil {
		return
	}
	if err := r.ledger.UpdateRunStatus(context.WithoutCancel(ctx), r.runID, status, msg); err != nil {
		r.logger.WithError(err).Warn("failed to record run status")
	}
}
