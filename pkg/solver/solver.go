// Package solver runs the external transport and depletion executables as
// subprocesses.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/telemetry"
)

// Solver names.
const (
	Transport = "transport"
	Transmute = "transmute"
)

// Spec describes how to invoke one solver.
type Spec struct {
	// Name identifies the solver in errors, logs and metrics.
	Name string

	// Executable is the solver binary.
	Executable string

	// Command is run through Shell. Placeholders of the form {name} are
	// replaced from the invocation variables; {executable} and {dir} are
	// always available.
	Command string

	// Link, when set, symlinks Executable into the working directory under
	// this name before the command runs.
	Link string

	// Shell defaults to /bin/sh.
	Shell string

	// Env entries are added to the inherited environment.
	Env map[string]string

	// Timeout bounds one invocation; zero means no bound.
	Timeout time.Duration

	// LogFile, relative to the working directory, receives the captured
	// output. Empty discards it after the run.
	LogFile string
}

// Invocation is one run of a solver.
type Invocation struct {
	// Dir is the working directory.
	Dir string
	// Vars fill the command placeholders.
	Vars map[string]string
}

// Result is the outcome of a completed invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs a named solver.
type Runner interface {
	Run(ctx context.Context, name string, inv Invocation) (*Result, error)
}

// Exec runs solvers as local subprocesses.
type Exec struct {
	specs map[string]Spec
}

// NewExec creates a runner for the given solvers.
func NewExec(specs ...Spec) *Exec {
	e := &Exec{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		e.specs[s.Name] = s
	}
	return e
}

// Names returns the configured solver names.
func (e *Exec) Names() []string {
	names := make([]string, 0, len(e.specs))
	for name := range e.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spec returns the configuration of the named solver.
func (e *Exec) Spec(name string) (Spec, bool) {
	s, ok := e.specs[name]
	return s, ok
}

// Run executes the named solver in inv.Dir and waits for it. A non-zero
// exit status or a timeout is a transient error carrying
// ErrCodeSolverFailed or ErrCodeTimeout.
func (e *Exec) Run(ctx context.Context, name string, inv Invocation) (*Result, error) {
	spec, ok := e.specs[name]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("solver %q is not configured", name), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if spec.Command == "" {
		return nil, engine.NewPermanentError(fmt.Sprintf("solver %q has no command", name), nil).
			WithCode(engine.ErrCodeValidation)
	}

	dir := inv.Dir
	if dir == "" {
		dir = "."
	}
	if spec.Link != "" {
		if err := link(spec.Executable, filepath.Join(dir, spec.Link)); err != nil {
			return nil, engine.NewPreconditionError("failed to link solver executable", err).
				WithCode(engine.ErrCodeMissingSolverInput).
				WithResource(spec.Executable).
				WithOperation(name)
		}
	}

	var result *Result
	err := telemetry.RecordSolverOperation(ctx, name, dir, func(ctx context.Context) error {
		var err error
		result, err = spec.run(ctx, dir, inv.Vars)
		return err
	})
	return result, err
}

func (s Spec) run(ctx context.Context, dir string, vars map[string]string) (*Result, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	command := s.Expand(dir, vars)
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	// Children that inherit the output pipes must not outlive a cancel.
	cmd.WaitDelay = 2 * time.Second

	if len(s.Env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(s.Env))
		for k := range s.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, s.Env[k]))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if logErr := s.AppendLog(dir, command, result); logErr != nil {
		return result, logErr
	}

	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		return result, engine.NewTransientError(fmt.Sprintf("%s timed out after %s", s.Name, s.Timeout), ctx.Err()).
			WithCode(engine.ErrCodeTimeout).
			WithResource(dir).
			WithOperation(s.Name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, engine.NewTransientError(fmt.Sprintf("%s exited with status %d", s.Name, result.ExitCode), err).
			WithCode(engine.ErrCodeSolverFailed).
			WithResource(dir).
			WithOperation(s.Name).
			WithDetail("exit_code", result.ExitCode).
			WithDetail("stderr", tail(result.Stderr, 20))
	}
	return result, engine.NewTransientError(fmt.Sprintf("failed to execute %s", s.Name), err).
		WithCode(engine.ErrCodeSolverFailed).
		WithResource(dir).
		WithOperation(s.Name)
}

// Expand fills the command placeholders.
func (s Spec) Expand(dir string, vars map[string]string) string {
	pairs := []string{"{executable}", s.Executable, "{dir}", dir}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(s.Command)
}

// AppendLog records command and its output in LogFile under dir.
func (s Spec) AppendLog(dir, command string, r *Result) error {
	if s.LogFile == "" {
		return nil
	}
	path := filepath.Join(dir, s.LogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open solver log %s: %w", path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "$ %s\n%s%s", command, r.Stdout, r.Stderr)
	return err
}

// link points name at target, replacing a stale link.
func link(target, name string) error {
	if target == "" {
		return fmt.Errorf("no executable configured")
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(abs, name)
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
