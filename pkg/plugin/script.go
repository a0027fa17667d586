// Package plugin runs user models written in Starlark: the density and
// temperature feedback of a depletion step and the fuel processing between
// recycle cycles.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/mocdown/mocdown/pkg/engine"
)

// DefaultTimeout bounds one call into a script.
const DefaultTimeout = 30 * time.Second

// Script is a loaded Starlark module whose functions can be called.
type Script struct {
	name    string
	globals starlark.StringDict
	timeout time.Duration
}

// Load reads and executes the module at path.
func Load(path string, timeout time.Duration) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewPreconditionError("failed to read script", err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(path).
			WithOperation("load script")
	}
	return Compile(filepath.Base(path), string(raw), timeout)
}

// Compile executes source as a module named name.
func Compile(name, source string, timeout time.Duration) (*Script, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	thread := newThread(name)
	globals, err := starlark.ExecFile(thread, name, source, predeclared())
	if err != nil {
		return nil, engine.NewPermanentError("failed to execute script", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(name).
			WithOperation("load script")
	}
	return &Script{name: name, globals: globals, timeout: timeout}, nil
}

// Name returns the module name.
func (s *Script) Name() string {
	return s.name
}

// Has reports whether the module defines a function fn.
func (s *Script) Has(fn string) bool {
	_, ok := s.globals[fn].(starlark.Callable)
	return ok
}

// Call invokes fn with Go arguments and returns its result as Go values.
// The call is cancelled when ctx is done or the timeout expires.
func (s *Script) Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error) {
	callable, ok := s.globals[fn].(starlark.Callable)
	if !ok {
		return nil, engine.NewPreconditionError(fmt.Sprintf("script defines no function %s", fn), nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(s.name).
			WithOperation("call script")
	}

	values := make(starlark.Tuple, len(args))
	for i, a := range args {
		v, err := toStarlarkValue(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, fn, err)
		}
		values[i] = v
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := newThread(s.name)
	type outcome struct {
		value starlark.Value
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := starlark.Call(thread, callable, values, nil)
		done <- outcome{v, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		thread.Cancel(ctx.Err().Error())
		// The interpreter stops at its next step.
		out = <-done
		return nil, engine.NewPermanentError(fmt.Sprintf("%s.%s did not finish", s.name, fn), ctx.Err()).
			WithCode(engine.ErrCodeTimeout).
			WithOperation("call script")
	}
	if out.err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("%s.%s failed", s.name, fn), out.err).
			WithOperation("call script")
	}
	return fromStarlarkValue(out.value)
}

func newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			log.Debug().Str("script", name).Msg(msg)
		},
	}
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}
