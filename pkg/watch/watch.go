// Package watch re-runs work when a file changes on disk.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDelay is the quiet period after the last change before the
// callback runs. Solvers append to their outputs in bursts.
const DefaultDelay = 500 * time.Millisecond

// Watcher calls back after a file has been written.
type Watcher struct {
	path   string
	delay  time.Duration
	logger zerolog.Logger
}

// New watches path.
func New(path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:   path,
		delay:  DefaultDelay,
		logger: logger.With().Str("component", "watch").Logger(),
	}
}

// WithDelay sets the debounce delay.
func (w *Watcher) WithDelay(d time.Duration) *Watcher {
	w.delay = d
	return w
}

// Run blocks until ctx is done, calling fn once per burst of writes to the
// file. Errors from fn are logged and watching continues.
func (w *Watcher) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	target, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", w.path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	// Editors and solvers often replace the file, so watch its directory.
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	w.logger.Info().Str("path", w.path).Msg("Watching for changes")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("File changed")
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := fn(ctx); err != nil {
				w.logger.Error().Err(err).Str("path", w.path).Msg("Failed to process change")
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
