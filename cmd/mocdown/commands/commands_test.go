package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/stores"
)

const cliDeck = `fuel and moderator
1 1 0.06 -1 imp:n=1 vol=10
2 2 0.05 1 -2 imp:n=1 vol=20
3 0 2 imp:n=0

1 so 1.0
2 so 2.0

mode n
kcode 1000 1.0 10 50
m1 92235.70c 0.1 8016.70c 0.2
m2 1001.70c 2 8016.70c 1
m3 92235.70c 1
f4:n 1 2
e4 1e-6 1 20
fm4 (1) (1 3 -6)
f6:n 1`

func cliOutput() string {
	var b strings.Builder
	b.WriteString("1mcnp     version 6     ld=05/08/13\n")
	for i, line := range strings.Split(cliDeck, "\n") {
		fmt.Fprintf(&b, "%9d-       %s\n", i+1, line)
	}

	block := func(cell int, bin string, values ...float64) string {
		var s strings.Builder
		fmt.Fprintf(&s, " cell %d     \n multiplier bin:   %s     \n      energy   \n", cell, bin)
		total := 0.0
		for i, e := range []float64{1e-6, 1, 20} {
			fmt.Fprintf(&s, "    %.4E   %.5E %.4f\n", e, values[i], 0.1)
			total += values[i]
		}
		fmt.Fprintf(&s, "      total      %.5E %.4f\n", total, 0.05)
		return s.String()
	}
	fluxBin := "1.00000E+00                      "
	rateBin := "1.00000E+00         3 -6         "
	b.WriteString("1tally        4        nps =     1000\n           tally type 4\n \n")
	b.WriteString(strings.Join([]string{
		block(1, fluxBin, 1e-2, 2e-2, 3e-2),
		block(1, rateBin, 1e-1, 2e-1, 2e-1),
		block(2, fluxBin, 1e-2, 2e-2, 3e-2),
		block(2, rateBin, 1e-1, 2e-1, 2e-1),
	}, " \n"))
	b.WriteString("1keff results for: fuel and moderator\n" +
		" the final estimated combined collision/absorption/track-length keff = 1.00000 with an estimated standard deviation of 0.00100\n" +
		" the average number of neutrons produced per fission = 2.437\n")
	return b.String()
}

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestRunArgs(t *testing.T) {
	tests := []struct {
		args         []string
		deck, config string
		explicit     bool
	}{
		{nil, "inp1", "mocdown.inp", false},
		{[]string{"core.i"}, "core.i", "mocdown.inp", false},
		{[]string{"core.i", "core.yaml"}, "core.i", "core.yaml", true},
	}
	for _, tt := range tests {
		deckPath, configPath, explicit := runArgs(tt.args)
		assert.Equal(t, tt.deck, deckPath)
		assert.Equal(t, tt.config, configPath)
		assert.Equal(t, tt.explicit, explicit)
	}
}

func TestParse_InputReports(t *testing.T) {
	path := writeFile(t, t.TempDir(), "core.i", cliDeck)

	out, err := execute(t, "parse", path, "--xsdir", filepath.Join(t.TempDir(), "xsdir"))
	require.NoError(t, err)
	assert.Contains(t, out, "Cells of core.i")
	assert.Contains(t, out, "Isotopes of core.i")
	assert.Contains(t, out, "Tallies of core.i")
	assert.NotContains(t, out, "Eigenvalue")

	out, err = execute(t, "parse", path, "--cells")
	require.NoError(t, err)
	assert.Contains(t, out, "Cells of core.i")
	assert.NotContains(t, out, "Tallies of core.i")
}

func TestParse_OutputSummaryAndTables(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "core.o", cliOutput())

	out, err := execute(t, "parse", path, "--keff", "--flux")
	require.NoError(t, err)
	assert.Contains(t, out, "Eigenvalue of core.o")
	assert.Contains(t, out, "1.00000 ± 0.00100")

	raw, err := os.ReadFile(filepath.Join(dir, "core.flx"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "Neutron Energy [MeV]"), "flux table header: %q", raw)
}

func TestParse_Errors(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "core.i", cliDeck)
	output := writeFile(t, dir, "core.o", cliOutput())

	_, err := execute(t, "parse", input, "--rxn")
	assert.True(t, engine.IsPrecondition(err), "tables of an input: %v", err)

	_, err = execute(t, "parse", output, "--flux=sideways")
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation), "unknown form: %v", err)

	_, err = execute(t, "parse", filepath.Join(dir, "missing.o"))
	assert.True(t, engine.HasCode(err, engine.ErrCodeNotFound), "missing file: %v", err)
}

func TestConfigShow(t *testing.T) {
	path := writeFile(t, t.TempDir(), "core.yaml", "recycle:\n  max_cycles: 7\n")

	out, err := execute(t, "config", "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "max_cycles: 7")
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()

	good := writeFile(t, dir, "good.yaml", "recycle:\n  max_cycles: 7\n")
	out, err := execute(t, "config", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	typo := writeFile(t, dir, "typo.yaml", "recycle:\n  max_cycle: 7\n")
	_, err = execute(t, "config", "validate", typo)
	assert.Error(t, err)

	script := writeFile(t, dir, "model.star", "def other(state, parameters):\n    return {}\n")
	noUpdate := writeFile(t, dir, "script.yaml", "feedback:\n  script: "+script+"\n")
	_, err = execute(t, "config", "validate", noUpdate)
	assert.Error(t, err, "a feedback script without update")
}

func TestDeplete_MissingConfig(t *testing.T) {
	dir := t.TempDir()
	deckPath := writeFile(t, dir, "core.i", cliDeck)

	_, err := execute(t, "deplete", deckPath, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := stores.Open(ctx, path)
	require.NoError(t, err)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateRun(ctx, &engine.RunRecord{
		ID:        "run-1",
		Kind:      engine.RunKindRecycle,
		Deck:      "core.i",
		Status:    engine.RunStatusRunning,
		StartedAt: started,
	}))
	keff, sigma := 1.02, 0.0005
	require.NoError(t, store.RecordCycle(ctx, &engine.CycleRecord{
		RunID: "run-1", Cycle: 0, Mode: "accelerate-only", Keff: &keff, KeffSigma: &sigma,
	}))
	require.NoError(t, store.RecordStep(ctx, &engine.StepRecord{
		RunID: "run-1", Step: 0, Interval: 10, Rate: 1, End: 10, Source: "replay",
	}))
	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", engine.RunStatusCompleted, nil))
	require.NoError(t, store.Close())

	out, err := execute(t, "runs", "--store", path)
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "completed")

	out, err = execute(t, "runs", "show", "run-1", "--store", path)
	require.NoError(t, err)
	assert.Contains(t, out, "accelerate-only")
	assert.Contains(t, out, "1.02000 ± 0.00050")
	assert.Contains(t, out, "replay")

	_, err = execute(t, "runs", "show", "run-2", "--store", path)
	assert.True(t, engine.HasCode(err, engine.ErrCodeNotFound), "unknown run: %v", err)
}

func TestRuns_Empty(t *testing.T) {
	out, err := execute(t, "runs", "--store", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}
