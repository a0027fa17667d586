package remote

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mocdown/mocdown/pkg/config"
	"github.com/mocdown/mocdown/pkg/engine"
	"github.com/mocdown/mocdown/pkg/solver"
	"github.com/mocdown/mocdown/pkg/telemetry"
)

// Runner runs the transport solver on the compute host and hands every
// other solver to the local runner.
type Runner struct {
	cfg    config.RemoteConfig
	local  *solver.Exec
	logger zerolog.Logger
}

// NewRunner creates a runner for the compute host of cfg. The solver
// commands and timeouts come from local.
func NewRunner(cfg config.RemoteConfig, local *solver.Exec, logger zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, local: local, logger: logger.With().Str("component", "remote").Logger()}
}

// Run implements solver.Runner.
func (r *Runner) Run(ctx context.Context, name string, inv solver.Invocation) (*solver.Result, error) {
	if name != solver.Transport {
		return r.local.Run(ctx, name, inv)
	}
	spec, ok := r.local.Spec(name)
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("solver %q is not configured", name), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	if spec.Command == "" {
		return nil, engine.NewPermanentError(fmt.Sprintf("solver %q has no command", name), nil).
			WithCode(engine.ErrCodeValidation)
	}
	base := inv.Vars["baseName"]
	if base == "" {
		return nil, engine.NewPermanentError("remote transport needs a base name", nil).
			WithCode(engine.ErrCodeValidation).
			WithOperation(name)
	}
	dir := inv.Dir
	if dir == "" {
		dir = "."
	}

	var result *solver.Result
	err := telemetry.RecordSolverOperation(ctx, name, dir, func(ctx context.Context) error {
		var err error
		result, err = r.run(ctx, spec, dir, base, inv.Vars)
		return err
	})
	return result, err
}

func (r *Runner) run(ctx context.Context, spec solver.Spec, dir, base string, vars map[string]string) (*solver.Result, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	remoteDir, err := r.RemoteDir(dir)
	if err != nil {
		return nil, err
	}
	client, err := Dial(ctx, r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := r.stage(ctx, client, dir, remoteDir, base); err != nil {
		return nil, err
	}

	command := r.command(spec, remoteDir, vars)
	start := time.Now()
	out, runErr := client.Run(ctx, command)
	if out == nil {
		return nil, runErr
	}
	result := &solver.Result{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Duration: time.Since(start),
	}
	if logErr := spec.AppendLog(dir, command, result); logErr != nil {
		return result, logErr
	}

	// Logs are collected even from failed runs; ctx may already be done.
	fetchCtx := context.WithoutCancel(ctx)
	if err := r.collectLogs(fetchCtx, client, dir, remoteDir); err != nil {
		r.logger.Warn().Err(err).Str("dir", remoteDir).Msg("Failed to collect remote logs")
	}

	if runErr != nil {
		return result, r.runError(ctx, spec, dir, result, runErr)
	}

	for _, ext := range []string{".o", ".src"} {
		name := base + ext
		err := client.Download(ctx, path.Join(remoteDir, name), filepath.Join(dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return result, unavailable(r.cfg.Host, "download "+name, err)
		}
	}
	return result, nil
}

// RemoteDir maps a local run directory to its directory under WorkDir. The
// name carries a digest of the absolute local path so that runs of
// different projects never share a directory.
func (r *Runner) RemoteDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return path.Join(r.cfg.WorkDir, fmt.Sprintf("%s-%x", filepath.Base(abs), sum[:4])), nil
}

// stage clears the previous outputs on the compute host and uploads the
// input and the optional source.
func (r *Runner) stage(ctx context.Context, client *Client, dir, remoteDir, base string) error {
	if err := client.MkdirAll(remoteDir); err != nil {
		return unavailable(r.cfg.Host, "create run directory", err)
	}
	for _, ext := range []string{".o", ".src", ".tpe"} {
		if err := client.Remove(path.Join(remoteDir, base+ext)); err != nil {
			return unavailable(r.cfg.Host, "remove stale "+base+ext, err)
		}
	}

	input := filepath.Join(dir, base+".i")
	if _, err := os.Stat(input); err != nil {
		return engine.NewPreconditionError("transport input is missing", err).
			WithCode(engine.ErrCodeMissingSolverInput).
			WithResource(input)
	}
	files := []string{base + ".i"}
	if _, err := os.Stat(filepath.Join(dir, base+".src")); err == nil {
		files = append(files, base+".src")
	}
	for _, name := range files {
		if err := client.Upload(ctx, filepath.Join(dir, name), path.Join(remoteDir, name)); err != nil {
			return unavailable(r.cfg.Host, "upload "+name, err)
		}
	}
	return nil
}

// command expands the solver command for the compute host, with its own
// executable and cross-section directory when configured.
func (r *Runner) command(spec solver.Spec, remoteDir string, vars map[string]string) string {
	if r.cfg.Executable != "" {
		spec.Executable = r.cfg.Executable
	}
	remoteVars := make(map[string]string, len(vars))
	for k, v := range vars {
		remoteVars[k] = v
	}
	if r.cfg.XsDir != "" {
		remoteVars["xsdir"] = r.cfg.XsDir
	}

	var b strings.Builder
	fmt.Fprintf(&b, "cd %s && ", shellQuote(remoteDir))
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(spec.Env[k]))
	}
	b.WriteString(spec.Expand(remoteDir, remoteVars))
	return b.String()
}

// collectLogs appends every remote *.log file to its local namesake and
// removes it, so the next run appends only its own lines.
func (r *Runner) collectLogs(ctx context.Context, client *Client, dir, remoteDir string) error {
	entries, err := client.ReadDir(remoteDir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		remotePath := path.Join(remoteDir, e.Name())
		if err := client.Append(ctx, remotePath, filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := client.Remove(remotePath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runError(ctx context.Context, spec solver.Spec, dir string, result *solver.Result, err error) error {
	if engine.HasCode(err, engine.ErrCodeRemoteUnavailable) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return engine.NewTransientError(fmt.Sprintf("%s timed out after %s on %s", spec.Name, spec.Timeout, r.cfg.Host), err).
			WithCode(engine.ErrCodeTimeout).
			WithResource(dir).
			WithOperation(spec.Name)
	}
	if result.ExitCode > 0 {
		return engine.NewTransientError(fmt.Sprintf("%s exited with status %d on %s", spec.Name, result.ExitCode, r.cfg.Host), err).
			WithCode(engine.ErrCodeSolverFailed).
			WithResource(dir).
			WithOperation(spec.Name).
			WithDetail("exit_code", result.ExitCode).
			WithDetail("host", r.cfg.Host)
	}
	return engine.NewTransientError(fmt.Sprintf("failed to execute %s on %s", spec.Name, r.cfg.Host), err).
		WithCode(engine.ErrCodeSolverFailed).
		WithResource(dir).
		WithOperation(spec.Name)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
