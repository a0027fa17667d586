// Package depletion couples the transport solver to the depletion solver
// over a schedule of steps. Every step prepares a transport deck carrying
// the burned compositions and the tallies the depletion solver needs, runs
// transport (iterating with a feedback model when one is configured),
// depletes every burn cell on a bounded worker pool and writes a
// checkpoint from which the run can be restarted or replayed.
package depletion

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/origen"
	"github.com/mocdown/mocdown/pkg/solver"
	"github.com/mocdown/mocdown/pkg/telemetry"
	"github.com/mocdown/mocdown/pkg/uncertainty"
)

// Log files in the run directory.
const (
	TransportLog = "transport.log"
	TransmuteLog = "transmute.log"
)

// Step sources reported to the ledger and metrics.
const (
	SourceComputed   = "computed"
	SourceCheckpoint = "checkpoint"
	SourceReplay     = "replay"
)

// Depleter runs one depletion of a deck.
type Depleter struct {
	cfg      *config.Config
	original *deck.Deck
	runner   solver.Runner
	feedback Feedback
	ledger   engine.Ledger
	libs     *origen.Libraries

	restart       bool
	transmuteOnly bool
	runID         string
	ownsRun       bool
	cycle         int

	rng       *rand.Rand
	logger    *telemetry.Logger
	schedule  *Schedule
	burnCells []int
	dir       string
	base      string
	digest    string

	step      int
	iteration int

	// calcs is nil until the first transmutation.
	calcs          map[int]*origen.Calculation
	cells          map[int]*CellState
	decayPowers    map[int]map[int]float64
	materialZaids  map[int]string
	transmuteTally int
	applied        map[int]CellUpdate
	history        []map[int]CellUpdate
	checkpoint     *Checkpoint

	keff        uncertainty.Scalar
	hasKeff     bool
	checkpoints []string

	// stepKeff is set when the current step produced an eigenvalue.
	stepKeff   bool
	sourceRate float64
}

// Option configures a Depleter.
type Option func(*Depleter)

// WithRunner replaces the subprocess runner built from the configuration.
func WithRunner(r solver.Runner) Option {
	return func(d *Depleter) {
		d.runner = r
	}
}

// WithFeedback iterates every step's transport with f until it proposes no
// more updates.
func WithFeedback(f Feedback) Option {
	return func(d *Depleter) {
		d.feedback = f
	}
}

// WithLedger records steps, and the run itself unless WithRun is given.
func WithLedger(l engine.Ledger) Option {
	return func(d *Depleter) {
		d.ledger = l
	}
}

// WithRun makes the depletion one cycle of an enclosing run.
func WithRun(runID string, cycle int) Option {
	return func(d *Depleter) {
		d.runID = runID
		d.cycle = cycle
		d.ownsRun = false
	}
}

// WithRestart skips every step that already has a checkpoint.
func WithRestart(restart bool) Option {
	return func(d *Depleter) {
		d.restart = restart
	}
}

// WithTransmuteOnly replays the checkpoints found in the run directory:
// transport is skipped and every cell is depleted with the checkpointed
// cross sections and burn rates.
func WithTransmuteOnly(transmuteOnly bool) Option {
	return func(d *Depleter) {
		d.transmuteOnly = transmuteOnly
	}
}

// WithLibraries supplies already loaded default libraries.
func WithLibraries(libs *origen.Libraries) Option {
	return func(d *Depleter) {
		d.libs = libs
	}
}

// Result is the outcome of a depletion.
type Result struct {
	// Deck is the path of the end-of-depletion transport input.
	Deck string
	// Keff is the last eigenvalue computed, valid when HasKeff is set.
	Keff        uncertainty.Scalar
	HasKeff     bool
	Steps       int
	Checkpoints []string
}

// New prepares the depletion of dk. The run directory is the directory of
// the deck file.
func New(cfg *config.Config, dk *deck.Deck, opts ...Option) (*Depleter, error) {
	d := &Depleter{
		cfg:         cfg,
		original:    dk,
		ownsRun:     true,
		decayPowers: make(map[int]map[int]float64),
		applied:     make(map[int]CellUpdate),
		logger:      telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runner == nil {
		d.runner = solver.NewExec(SolverSpecs(cfg)...)
	}
	if d.runID == "" {
		d.runID = uuid.NewString()
	}

	seed := cfg.Depletion.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	d.rng = rand.New(rand.NewSource(seed))

	d.burnCells = append([]int(nil), cfg.Depletion.BurnCells...)
	sort.Ints(d.burnCells)
	for _, n := range d.burnCells {
		if dk.CellMaterial(n) == nil {
			return nil, engine.NewPreconditionError(fmt.Sprintf("burn cell %d is missing or void", n), nil).
				WithCode(engine.ErrCodeValidation).
				WithResource(dk.FileName).
				WithOperation("prepare depletion")
		}
	}

	schedule, err := NewSchedule(cfg.Depletion, dk.HeavyMetalMT())
	if err != nil {
		return nil, engine.NewPermanentError("invalid depletion schedule", err).
			WithCode(engine.ErrCodeValidation)
	}
	d.schedule = schedule

	d.dir = filepath.Dir(dk.FileName)
	d.base = strings.TrimSuffix(dk.FileName, filepath.Ext(dk.FileName))
	d.digest = ParametersDigest(cfg)
	return d, nil
}

// SolverSpecs describes the transport and depletion solvers of cfg. The
// depletion solver is linked into each burn cell's directory as "origen".
func SolverSpecs(cfg *config.Config) []solver.Spec {
	return []solver.Spec{
		{
			Name:       solver.Transport,
			Executable: cfg.Transport.Executable,
			Command:    cfg.Transport.Command,
			Env:        cfg.Transport.Env,
			Timeout:    cfg.Transport.Timeout,
		},
		{
			Name:       solver.Transmute,
			Executable: cfg.Transmute.Executable,
			Command:    cfg.Transmute.Command,
			Link:       "origen",
			Env:        cfg.Transmute.Env,
			Timeout:    cfg.Transmute.Timeout,
		},
	}
}

// Schedule returns the depletion steps.
func (d *Depleter) Schedule() *Schedule {
	return d.schedule
}

// Run performs every step of the schedule and prepares the
// end-of-depletion transport input.
func (d *Depleter) Run(ctx context.Context) (res *Result, err error) {
	tel := telemetry.FromTelemetryContext(ctx)
	if d.ownsRun && tel != nil {
		var span trace.Span
		ctx, span = tel.Tracer.StartRunSpan(ctx, d.runID, engine.RunKindDeplete)
		defer span.End()
	}
	ic := telemetry.StartOperation(ctx, "depletion.run",
		attribute.String("deck", d.original.FileName),
		attribute.Int("steps", d.schedule.Len()),
	)
	defer func() { ic.End(err) }()
	ctx = ic.Ctx
	d.logger = ic.Logger.NewComponentLogger("depletion").WithRunID(d.runID).WithCycle(d.cycle)

	start := time.Now()
	if d.ownsRun {
		if err := d.startRun(ctx, tel); err != nil {
			return nil, err
		}
		defer func() { d.finishRun(ctx, tel, start, err) }()
	}

	if err := d.init(); err != nil {
		return nil, err
	}
	d.logger.Infof("performing %d depletion step(s)", d.schedule.Len())

	for d.step = 0; d.step < d.schedule.Len(); d.step++ {
		if err := d.runStep(ctx); err != nil {
			return nil, err
		}
	}

	// End-of-depletion input, ready for the next cycle or a final transport.
	d.iteration = 0
	input, err := d.prepareTransport(true)
	if err != nil {
		return nil, err
	}
	path, err := d.writeCheckpoint(input, nil)
	if err != nil {
		return nil, err
	}
	d.checkpoints = append(d.checkpoints, path)
	d.logger.Infof("completed all %d depletion step(s)", d.schedule.Len())

	return &Result{
		Deck:        input,
		Keff:        d.keff,
		HasKeff:     d.hasKeff,
		Steps:       d.schedule.Len(),
		Checkpoints: d.checkpoints,
	}, nil
}

func (d *Depleter) init() error {
	if d.libs == nil {
		l := d.cfg.Libraries
		libs, err := origen.LoadLibraries(l.PathTemplate, l.Decay, l.Photon, l.Xs)
		if err != nil {
			return engine.NewPreconditionError("failed to load depletion libraries", err).
				WithCode(engine.ErrCodeMissingSolverInput).
				WithOperation("prepare depletion")
		}
		d.libs = libs
	}

	powers := make(map[int]float64, len(d.burnCells))
	for _, n := range d.burnCells {
		powers[n] = d.original.CellDecayPower(n, d.wattsPerMole())
	}
	d.decayPowers[0] = powers

	if !d.restart {
		for _, name := range []string{TransportLog, TransmuteLog} {
			if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
	}
	return nil
}

func (d *Depleter) runStep(ctx context.Context) (err error) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel != nil {
		var span trace.Span
		ctx, span = tel.Tracer.StartStepSpan(ctx, d.step)
		defer span.End()
	}
	start := time.Now()
	step := d.schedule.Steps[d.step]
	logger := d.logger.WithStep(d.step)
	logger.Infof("depletion step %d of %d: %.5E days at %.5E %s", d.step+1, d.schedule.Len(), step.Interval, step.Rate, d.schedule.Units())

	if err := d.loadCheckpoint(logger); err != nil {
		return err
	}

	if d.restart && d.checkpoint != nil {
		logger.Info("restart step, adopting checkpoint")
		if err := d.resume(); err != nil {
			return err
		}
		d.checkpoints = append(d.checkpoints, FindCheckpoint(d.base, d.step))
		return d.recordStep(ctx, SourceCheckpoint, 0, d.checkpoints[len(d.checkpoints)-1], start)
	}

	tr, err := d.transportConvergence(ctx)
	if err != nil {
		return err
	}
	if err := d.transmute(ctx, tr); err != nil {
		return err
	}
	path, err := d.writeCheckpoint(tr.input, tr)
	if err != nil {
		return err
	}
	d.checkpoints = append(d.checkpoints, path)

	source := SourceComputed
	if d.transmuteOnly {
		source = SourceReplay
	}
	return d.recordStep(ctx, source, len(d.history), path, start)
}

// loadCheckpoint reads the checkpoint of the current step when restarting
// or replaying. A missing checkpoint runs the step from scratch.
func (d *Depleter) loadCheckpoint(logger *telemetry.Logger) error {
	d.checkpoint = nil
	if !d.restart && !d.transmuteOnly {
		return nil
	}
	path := FindCheckpoint(d.base, d.step)
	if path == "" {
		if d.transmuteOnly {
			return engine.NewPreconditionError(fmt.Sprintf("no checkpoint to replay for step %d", d.step), nil).
				WithCode(engine.ErrCodeMissingSolverInput).
				WithResource(CheckpointPath(d.base, d.step, d.cfg.Checkpoint.Compress)).
				WithOperation("replay step")
		}
		return nil
	}
	c, err := ReadCheckpoint(path)
	if err != nil {
		return err
	}
	if c.Digest != d.digest {
		logger.Warnf("parameters of %s do not match the current configuration", filepath.Base(path))
	}
	d.checkpoint = c
	return nil
}

// resume adopts the checkpoint of a step that does not need to run again.
func (d *Depleter) resume() error {
	c := d.checkpoint
	for ext, text := range map[string]string{"i": c.TransportInput, "o": c.TransportOutput} {
		path := d.fileName(ext, true)
		if text == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return fmt.Errorf("failed to restore %s: %w", path, err)
		}
	}
	if calcs := c.Calculations(); calcs != nil {
		d.calcs = calcs
	}
	d.cells = c.Cells
	d.decayPowers[d.step+1] = c.NextDecayPowers()
	if c.Applied != nil {
		d.applied = c.Applied
	}
	d.stepKeff = c.HasEigenvalue
	d.sourceRate = c.SourceRate
	if c.HasEigenvalue {
		d.keff = uncertainty.FromStd(c.Keff, c.KeffSigma)
		d.hasKeff = true
	}
	return nil
}

func (d *Depleter) writeCheckpoint(input string, tr *transportResult) (string, error) {
	raw, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("failed to read transport input: %w", err)
	}
	c := &Checkpoint{
		Step:           d.step,
		Digest:         d.digest,
		TransportInput: string(raw),
		BurnCells:      d.burnCells,
		Cells:          d.cells,
		TransmuteTally: d.transmuteTally,
		MaterialZaids:  d.materialZaids,
		Feedback:       d.history,
		Applied:        d.applied,
	}
	if d.step < d.schedule.Len() {
		s := d.schedule.Steps[d.step]
		c.Interval, c.Rate, c.End = s.Interval, s.Rate, s.End
	}
	if tr != nil && tr.output == nil && d.transmuteOnly && d.checkpoint != nil {
		// A replay keeps the transport results it was replayed from.
		prev := d.checkpoint
		c.TransportOutput = prev.TransportOutput
		c.HasEigenvalue, c.Keff, c.KeffSigma = prev.HasEigenvalue, prev.Keff, prev.KeffSigma
		c.NeutronsPerFission, c.MevPerFission = prev.NeutronsPerFission, prev.MevPerFission
		c.SourceRate = prev.SourceRate
		c.TransmuteTally, c.MaterialZaids = prev.TransmuteTally, prev.MaterialZaids
	}
	if tr != nil && tr.output != nil {
		out := tr.output
		c.TransportOutput = out.Raw()
		c.SourceRate = out.SourceRate()
		if out.HasEigenvalue() {
			c.HasEigenvalue = true
			c.Keff, c.KeffSigma = out.Keff().Value, out.Keff().Std()
			c.NeutronsPerFission = out.NeutronsPerFission()
			c.MevPerFission = out.MevPerFission()
		}
	}

	path := CheckpointPath(d.base, d.step, d.cfg.Checkpoint.Compress)
	if err := WriteCheckpoint(path, c, d.cfg.Checkpoint.Compress); err != nil {
		return "", engine.NewTransientError("failed to write checkpoint", err).
			WithResource(path).
			WithOperation("write checkpoint")
	}
	d.logger.WithStep(d.step).Debugf("wrote %s", filepath.Base(path))
	return path, nil
}

func (d *Depleter) recordStep(ctx context.Context, source string, iterations int, checkpoint string, start time.Time) error {
	step := d.schedule.Steps[d.step]
	duration := time.Since(start)

	var keff, sigma *float64
	keffValue := 0.0
	if d.stepKeff {
		k, s := d.keff.Value, d.keff.Std()
		keff, sigma, keffValue = &k, &s, k
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordStep(source, iterations)
		if keff != nil {
			tel.Metrics.SetEigenvalue(*keff, d.sourceRate)
		}
		tel.Events.PublishStep(d.runID, d.step, step.End, keffValue)
	}

	if d.ledger == nil {
		return nil
	}
	err := d.ledger.RecordStep(ctx, &engine.StepRecord{
		RunID:              d.runID,
		Cycle:              d.cycle,
		Step:               d.step,
		Interval:           step.Interval,
		Rate:               step.Rate,
		End:                step.End,
		Keff:               keff,
		KeffSigma:          sigma,
		Source:             source,
		FeedbackIterations: iterations,
		Checkpoint:         checkpoint,
		Duration:           duration,
	})
	if err != nil {
		// The ledger is a record; a failed insert does not stop the run.
		d.logger.WithError(err).Warn("failed to record depletion step")
	}
	return nil
}

func (d *Depleter) startRun(ctx context.Context, tel *telemetry.Telemetry) error {
	if tel != nil {
		tel.Metrics.RecordRunStarted(engine.RunKindDeplete)
	}
	if d.ledger == nil {
		return nil
	}
	return d.ledger.CreateRun(ctx, &engine.RunRecord{
		ID:        d.runID,
		Kind:      engine.RunKindDeplete,
		Deck:      d.original.FileName,
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	})
}

func (d *Depleter) finishRun(ctx context.Context, tel *telemetry.Telemetry, start time.Time, runErr error) {
	status := engine.StatusOf(ctx, runErr)
	var msg *string
	if runErr != nil {
		m := runErr.Error()
		msg = &m
	}
	if tel != nil {
		tel.Metrics.RecordRunCompleted(engine.RunKindDeplete, string(status), time.Since(start))
		tel.Events.PublishRunCompleted(d.runID, time.Since(start), runErr)
	}
	if d.ledger == nil {
		return
	}
	// The run context may already be cancelled; the final status is
	// still worth recording.
	if err := d.ledger.UpdateRunStatus(context.WithoutCancel(ctx), d.runID, status, msg); err != nil {
		d.logger.WithError(err).Warn("failed to record run status")
	}
}

// fileName names a file of the current step. Unless bare is set, feedback
// iterations are numbered with a "-k" suffix.
func (d *Depleter) fileName(ext string, bare bool) string {
	name := d.original.NewputFileName(d.step)
	if d.feedback != nil && !bare {
		name += fmt.Sprintf("-%d", d.iteration)
	}
	return name + "." + ext
}

// wattsPerMole is the decay heat table, empty when decay heat is excluded.
func (d *Depleter) wattsPerMole() map[int]float64 {
	if !d.cfg.Depletion.IncludeDecayHeat || d.libs == nil {
		return map[int]float64{}
	}
	return d.libs.WattsPerMole
}

// calculationDecayPower is the decay heat of a depletion result in W.
func (d *Depleter) calculationDecayPower(c *origen.Calculation) float64 {
	if !d.cfg.Depletion.IncludeDecayHeat {
		return 0
	}
	return c.DecayPower(d.libs)
}
