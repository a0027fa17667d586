package depletion

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/origen"
)

func sampleCheckpoint() *Checkpoint {
	density := 0.9
	return &Checkpoint{
		Step:           1,
		Digest:         "abc",
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Interval:       10,
		Rate:           1,
		End:            20,
		TransportInput: "deck\n",
		BurnCells:      []int{1},
		Cells: map[int]*CellState{
			1: {
				Volume:         10,
				BurnRate:       1e-3,
				ZamMoles:       map[int]float64{922350: 1},
				Micros:         origen.Micros{{Zam: 922350, MT: -6}: 40},
				Calculation:    &origen.Calculation{ZamMoles: map[int]float64{922350: 0.9}},
				DecayPower:     1,
				NextDecayPower: 2,
			},
		},
		TransmuteTally: 14,
		MaterialZaids:  map[int]string{92235: "92235.70c"},
		HasEigenvalue:  true,
		Keff:           1.01,
		KeffSigma:      1e-3,
		SourceRate:     3e16,
		Feedback:       []map[int]CellUpdate{{2: {MassDensity: &density}}},
		Applied:        map[int]CellUpdate{2: {MassDensity: &density}},
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "core")
			path := CheckpointPath(base, 1, compress)
			want := sampleCheckpoint()
			require.NoError(t, WriteCheckpoint(path, want, compress))

			assert.Equal(t, path, FindCheckpoint(base, 1))
			assert.Empty(t, FindCheckpoint(base, 2))

			got, err := ReadCheckpoint(path)
			require.NoError(t, err)
			assert.Equal(t, CheckpointVersion, got.Version)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("ReadCheckpoint() mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, map[int]float64{1: 2}, got.NextDecayPowers())
			assert.Len(t, got.Calculations(), 1)
		})
	}
}

func TestWriteCheckpoint_ReplacesLink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "previous.ckpt")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o644))
	path := CheckpointPath(filepath.Join(dir, "core"), 0, false)
	require.NoError(t, os.Symlink(target, path))

	require.NoError(t, WriteCheckpoint(path, sampleCheckpoint(), false))

	raw, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(raw))
	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func writeVersioned(t *testing.T, path string, version int, body interface{}) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	w := bufio.NewWriter(f)
	hb, err := json.Marshal(checkpointHeader{Format: checkpointFormat, Version: version})
	require.NoError(t, err)
	_, err = w.Write(append(hb, '\n'))
	require.NoError(t, err)
	if body != nil {
		require.NoError(t, gob.NewEncoder(w).Encode(body))
	}
	require.NoError(t, w.Flush())
}

func TestReadCheckpoint_UpgradesVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.000.ckpt")
	writeVersioned(t, path, 1, checkpointV1{Version: 1, Step: 0, Digest: "old", TransportInput: "deck"})

	got, err := ReadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "old", got.Digest)
	assert.NotNil(t, got.Applied)
	assert.Empty(t, got.Feedback)
}

func TestReadCheckpoint_Errors(t *testing.T) {
	dir := t.TempDir()

	future := filepath.Join(dir, "future.ckpt")
	writeVersioned(t, future, 99, nil)
	_, err := ReadCheckpoint(future)
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeCheckpointVersion))
	assert.True(t, engine.IsPermanent(err))

	garbage := filepath.Join(dir, "garbage.ckpt")
	require.NoError(t, os.WriteFile(garbage, []byte("not json\n"), 0o644))
	_, err = ReadCheckpoint(garbage)
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))

	foreign := filepath.Join(dir, "foreign.ckpt")
	require.NoError(t, os.WriteFile(foreign, []byte(`{"format":"other","version":2}`+"\n"), 0o644))
	_, err = ReadCheckpoint(foreign)
	assert.Error(t, err)
}

func TestParametersDigest(t *testing.T) {
	a := config.Default()
	b := config.Default()
	assert.Equal(t, ParametersDigest(a), ParametersDigest(b))

	b.Depletion.IsotopeCutoff = 1e-6
	assert.NotEqual(t, ParametersDigest(a), ParametersDigest(b))

	// Transport settings do not affect what a checkpoint holds.
	b = config.Default()
	b.Transport.Executable = "/opt/mcnp"
	assert.Equal(t, ParametersDigest(a), ParametersDigest(b))
}
