package depletion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/deck"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/origen"
	"github.com/mocdown/mocdown/pkg/solver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleDeck = `burn test
1 1 0.06 -1 imp:n=1 vol=10
2 2 -1.0 1 -2 imp:n=1 vol=20
3 0 2 imp:n=0

1 so 1.0
2 so 2.0

mode n
kcode 1000 1.0 10 50
m1 92235.70c 0.1 8016.70c 0.2
m2 1001.70c 2 8016.70c 1`

const (
	sampleDecay = "  1  922350  5  7.038E+08  0.0  0.0\n" +
		"  1                 0.000E+00 0.000E+00 2.024E+02 \n" +
		"  1   80160  6  0.000E+00  0.0  0.0\n" +
		"  1                 0.000E+00 0.000E+00 0.000E+00 \n"

	sampleXs = "" +
		" 201   80160 1.0000E-04 0.0000E+00 0.0000E+00 0.0000E+00 0.0000E+00 0.0000E+00 -1.0\n" +
		" 202  922350 8.0000E+01 2.0000E+00 1.0000E+00 5.0000E+02 2.0000E+01 2.0000E+00 -1.0\n" +
		" 203  541350 2.0000E+06 0.0000E+00 0.0000E+00 0.0000E+00 0.0000E+00 0.0000E+00 -1.0\n"

	sampleTape7 = "" +
		"  1  922350 1.0E+00  80160 2.0E+00\n" +
		"  2  922350 5.0E-01 541350 0.0E+00\n" +
		"  0       0 0.0E+00\n" +
		"     3.0E+01 1.0E+14 2.5E-02\n"

	sampleTape6 = "" +
		"0   19 NEUTRON ABSORPTION RATE\n" +
		"   NUCLIDE   1.0D      2.0D\n" +
		"  U235  1.000e-02 2.000e-02\n" +
		"0   21 NEUTRON FISSION RATE\n" +
		"  U235  1.000e-02 6.000e-02\n" +
		"1\n"
)

// fakeRunner stands in for both solvers. Transport echoes the input into
// an output with an eigenvalue and no tallies; transmutation leaves fixed
// results.
type fakeRunner struct {
	dir string

	mu        sync.Mutex
	transport []string
	transmute int
	fail      error
}

func (r *fakeRunner) Run(ctx context.Context, name string, inv solver.Invocation) (*solver.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	switch name {
	case solver.Transport:
		base := inv.Vars["baseName"]
		r.transport = append(r.transport, base)
		raw, err := os.ReadFile(filepath.Join(inv.Dir, base+".i"))
		if err != nil {
			return nil, err
		}
		return &solver.Result{}, os.WriteFile(filepath.Join(inv.Dir, base+".o"), []byte(echoOutput(string(raw))), 0o644)
	case solver.Transmute:
		r.transmute++
		if err := os.WriteFile(filepath.Join(inv.Dir, origen.TAPE6), []byte(sampleTape6), 0o644); err != nil {
			return nil, err
		}
		return &solver.Result{}, os.WriteFile(filepath.Join(inv.Dir, origen.TAPE7), []byte(sampleTape7), 0o644)
	}
	return nil, fmt.Errorf("unknown solver %q", name)
}

func echoOutput(input string) string {
	var b strings.Builder
	b.WriteString("1mcnp     version 6     ld=05/08/13\n")
	for i, line := range strings.Split(strings.TrimRight(input, "\n"), "\n") {
		fmt.Fprintf(&b, "%9d-       %s\n", i+1, line)
	}
	b.WriteString("1keff results for: burn test\n" +
		" the final estimated combined collision/absorption/track-length keff = 1.01000 with an estimated standard deviation of 0.00100\n" +
		" the average number of neutrons produced per fission = 2.437\n")
	return b.String()
}

type fixture struct {
	dir    string
	cfg    *config.Config
	deck   *deck.Deck
	runner *fakeRunner
	libs   *origen.Libraries
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "core.i")
	require.NoError(t, os.WriteFile(path, []byte(sampleDeck), 0o644))
	dk, err := deck.ReadFile(path)
	require.NoError(t, err)
	libs, err := origen.ParseLibraries(sampleDecay, "photons", sampleXs)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Depletion.BurnCells = []int{1}
	cfg.Depletion.Seed = 1
	cfg.Transport.SourceFile = ""
	cfg.Checkpoint.Compress = false
	return &fixture{dir: dir, cfg: cfg, deck: dk, runner: &fakeRunner{dir: dir}, libs: libs}
}

func (f *fixture) depleter(t *testing.T, opts ...Option) *Depleter {
	t.Helper()
	opts = append([]Option{WithRunner(f.runner), WithLibraries(f.libs)}, opts...)
	d, err := New(f.cfg, f.deck, opts...)
	require.NoError(t, err)
	return d
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	return string(raw)
}

func TestRun_DecaySteps(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10, 20}

	res, err := f.depleter(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Steps)
	assert.Len(t, res.Checkpoints, 3)
	assert.False(t, res.HasKeff)
	assert.Equal(t, filepath.Join(f.dir, "core.002.i"), res.Deck)
	assert.Empty(t, f.runner.transport, "decay steps are not transported")
	assert.Equal(t, 2, f.runner.transmute)

	first := f.read(t, "core.000.i")
	assert.Contains(t, first, "f4:n 1")
	assert.Contains(t, first, "fm4:n (1)")
	assert.Contains(t, first, "92235.70c +1.0")
	assert.Contains(t, first, "(-6) (16) (17) (102)")

	last := f.read(t, "core.002.i")
	assert.NotContains(t, last, "fm4")
	assert.Contains(t, last, "1 1 +0.2107749 -1")
	assert.Contains(t, last, "92235.70c +4.28571E-01")
	assert.Contains(t, last, "8016.70c +5.71429E-01")

	c, err := ReadCheckpoint(res.Checkpoints[0])
	require.NoError(t, err)
	assert.Equal(t, 0, c.Step)
	assert.Equal(t, 10.0, c.Interval)
	require.NotNil(t, c.Cells[1])
	assert.Equal(t, 10.0, c.Cells[1].Volume)
	assert.NotNil(t, c.Cells[1].Calculation)
}

func TestRun_RestartSkipsCheckpointedSteps(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10, 20}
	first, err := f.depleter(t).Run(context.Background())
	require.NoError(t, err)

	f.runner.fail = errors.New("solver must not run")
	second, err := f.depleter(t, WithRestart(true)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.read(t, filepath.Base(first.Deck)), f.read(t, filepath.Base(second.Deck)))
}

func TestRun_ReplayTransmutesOnly(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10}
	f.cfg.Depletion.Flux = 1e14
	_, err := f.depleter(t).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, f.runner.transport, 1)

	f.runner.transport = nil
	f.runner.transmute = 0
	_, err = f.depleter(t, WithTransmuteOnly(true)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.runner.transport)
	assert.Equal(t, 1, f.runner.transmute)
}

func TestRun_ReplayWithoutCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10}
	_, err := f.depleter(t, WithTransmuteOnly(true)).Run(context.Background())
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeMissingSolverInput))
}

func TestRun_FeedbackIteratesTransport(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10}
	f.cfg.Depletion.Flux = 1e14

	var calls []FeedbackInput
	feedback := FeedbackFunc(func(ctx context.Context, in FeedbackInput) (map[int]CellUpdate, error) {
		calls = append(calls, in)
		if in.Iteration > 0 {
			return nil, nil
		}
		density := 0.9
		return map[int]CellUpdate{2: {MassDensity: &density}}, nil
	})

	res, err := f.depleter(t, WithFeedback(feedback)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].Applied)
	assert.Contains(t, calls[1].Applied, 2)
	assert.Equal(t, []string{"core.000-0", "core.000-1"}, f.runner.transport)
	assert.True(t, res.HasKeff)
	assert.InDelta(t, 1.01, res.Keff.Value, 1e-9)

	assert.NotContains(t, f.read(t, "core.000-0.i"), "-0.9000000")
	assert.Contains(t, f.read(t, "core.000-1.i"), "2 2 -0.9000000 1 -2")
	link, err := os.Readlink(filepath.Join(f.dir, "core.000.i"))
	require.NoError(t, err)
	assert.Equal(t, "core.000-1.i", link)

	assert.Contains(t, f.read(t, "core.001.i"), "2 2 -0.9000000 1 -2", "updates carry into the final deck")

	c, err := ReadCheckpoint(res.Checkpoints[0])
	require.NoError(t, err)
	assert.Len(t, c.Feedback, 1)
	assert.Contains(t, c.Applied, 2)
	assert.True(t, c.HasEigenvalue)
}

func TestRun_FeedbackIterationCap(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10}
	f.cfg.Depletion.Flux = 1e14
	f.cfg.Depletion.MaxFeedbackIterations = 3

	density := 0.5
	feedback := FeedbackFunc(func(ctx context.Context, in FeedbackInput) (map[int]CellUpdate, error) {
		density += 0.1
		d := density
		return map[int]CellUpdate{2: {MassDensity: &d}}, nil
	})

	_, err := f.depleter(t, WithFeedback(feedback)).Run(context.Background())
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeNotConverged))
	assert.Len(t, f.runner.transport, 3)
}

func TestRun_SolverFailureStops(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10, 10}
	f.runner.fail = engine.NewPermanentError("solver exited 1", nil).WithCode(engine.ErrCodeSolverFailed)

	_, err := f.depleter(t).Run(context.Background())
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeSolverFailed))
	assert.Empty(t, FindCheckpoint(filepath.Join(f.dir, "core"), 0))
}

func TestNew_RejectsVoidBurnCell(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.BurnCells = []int{3}
	_, err := New(f.cfg, f.deck, WithRunner(f.runner))
	require.Error(t, err)
	assert.True(t, engine.IsPrecondition(err))
}

type memoryLedger struct {
	mu     sync.Mutex
	runs   map[string]*engine.RunRecord
	steps  []*engine.StepRecord
	cycles []*engine.CycleRecord
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{runs: make(map[string]*engine.RunRecord)}
}

func (l *memoryLedger) CreateRun(ctx context.Context, run *engine.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := *run
	l.runs[run.ID] = &r
	return nil
}

func (l *memoryLedger) UpdateRunStatus(ctx context.Context, id string, status engine.RunStatus, errMsg *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	r.Status = status
	r.Error = errMsg
	return nil
}

func (l *memoryLedger) RecordStep(ctx context.Context, step *engine.StepRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step)
	return nil
}

func (l *memoryLedger) RecordCycle(ctx context.Context, cycle *engine.CycleRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles = append(l.cycles, cycle)
	return nil
}

func TestRun_RecordsLedger(t *testing.T) {
	f := newFixture(t)
	f.cfg.Depletion.StepTimeIntervals = []float64{10, 20}
	ledger := newMemoryLedger()

	_, err := f.depleter(t, WithLedger(ledger)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ledger.runs, 1)
	for _, r := range ledger.runs {
		assert.Equal(t, engine.RunStatusCompleted, r.Status)
		assert.Equal(t, engine.RunKindDeplete, r.Kind)
	}
	require.Len(t, ledger.steps, 2)
	assert.Equal(t, SourceComputed, ledger.steps[0].Source)
	assert.Equal(t, 30.0, ledger.steps[1].End)

	ledger = newMemoryLedger()
	_, err = f.depleter(t, WithLedger(ledger), WithRestart(true), WithRun("outer", 3)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ledger.runs, "an enclosing run owns the run record")
	require.Len(t, ledger.steps, 2)
	assert.Equal(t, SourceCheckpoint, ledger.steps[0].Source)
	assert.Equal(t, "outer", ledger.steps[0].RunID)
	assert.Equal(t, 3, ledger.steps[0].Cycle)
}
