package solver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mocdown/mocdown/pkg/engine"
)

func TestExpand(t *testing.T) {
	s := Spec{
		Executable: "/opt/mcnp6",
		Command:    "{executable} i={baseName}.i o={baseName}.o x={xsdir} # {dir}",
	}
	got := s.Expand("/work", map[string]string{"baseName": "core.001", "xsdir": "/data/xsdir"})
	assert.Equal(t, "/opt/mcnp6 i=core.001.i o=core.001.o x=/data/xsdir # /work", got)
}

func TestRun_CapturesOutput(t *testing.T) {
	dir := t.TempDir()
	e := NewExec(Spec{Name: Transport, Command: "echo {baseName}; echo oops >&2", LogFile: "transport.log"})

	res, err := e.Run(context.Background(), Transport, Invocation{Dir: dir, Vars: map[string]string{"baseName": "core"}})
	require.NoError(t, err)
	assert.Equal(t, "core\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Zero(t, res.ExitCode)

	log, err := os.ReadFile(filepath.Join(dir, "transport.log"))
	require.NoError(t, err)
	assert.Equal(t, "$ echo core; echo oops >&2\ncore\noops\n", string(log))
}

func TestRun_NonZeroExit(t *testing.T) {
	e := NewExec(Spec{Name: Transmute, Command: "echo failed >&2; exit 3"})

	res, err := e.Run(context.Background(), Transmute, Invocation{Dir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
	assert.True(t, engine.HasCode(err, engine.ErrCodeSolverFailed))
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "exited with status 3")
}

func TestRun_Timeout(t *testing.T) {
	e := NewExec(Spec{Name: Transport, Command: "sleep 5", Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := e.Run(context.Background(), Transport, Invocation{Dir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeTimeout))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRun_Cancelled(t *testing.T) {
	e := NewExec(Spec{Name: Transport, Command: "sleep 5"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, Transport, Invocation{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestRun_LinksExecutable(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "o2_fast")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho transmuted > TAPE7.OUT\n"), 0o755))
	dir := t.TempDir()
	e := NewExec(Spec{Name: Transmute, Executable: bin, Link: "origen", Command: "./origen"})

	_, err := e.Run(context.Background(), Transmute, Invocation{Dir: dir})
	require.NoError(t, err)
	out, err := os.ReadFile(filepath.Join(dir, "TAPE7.OUT"))
	require.NoError(t, err)
	assert.Equal(t, "transmuted", strings.TrimSpace(string(out)))

	// A second run replaces the existing link.
	_, err = e.Run(context.Background(), Transmute, Invocation{Dir: dir})
	require.NoError(t, err)
}

func TestRun_MissingExecutable(t *testing.T) {
	e := NewExec(Spec{Name: Transmute, Executable: "/does/not/exist", Link: "origen", Command: "./origen"})
	_, err := e.Run(context.Background(), Transmute, Invocation{Dir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, engine.IsPrecondition(err))
}

func TestRun_UnknownSolver(t *testing.T) {
	e := NewExec()
	_, err := e.Run(context.Background(), "nope", Invocation{})
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeNotFound))
	assert.Empty(t, e.Names())
}
