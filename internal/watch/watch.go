// Package watch triggers work when a file changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/pipemedic/internal/log"
)

// DefaultDebounce collapses bursts of writes from one save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls a function after a watched file settles.
type Watcher struct {
	logger *log.Logger
	// ready runs once the watch is registered.
	ready func()
}

// New creates a Watcher.
func New(logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Watcher{logger: logger.WithGroup("watch")}
}

// Run watches path until ctx is done. fn runs once per debounced burst of
// write, create or rename events on path; it runs on the watching goroutine
// so calls never overlap. An error from fn is logged and watching continues.
//
// The parent directory is watched so that atomic replacements, which swap
// the inode, are still seen.
func (w *Watcher) Run(ctx context.Context, path string, debounce time.Duration, fn func(context.Context) error) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	w.logger.InfoContext(ctx, "watching for changes", "path", target, "debounce", debounce)
	if w.ready != nil {
		w.ready()
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.DebugContext(ctx, "watch stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(event, target) {
				continue
			}
			w.logger.DebugContext(ctx, "file event", "op", event.Op.String(), "path", event.Name)
			timer.Reset(debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "file watcher error", "error", err)

		case <-timer.C:
			w.logger.InfoContext(ctx, "change detected", "path", target)
			if err := fn(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.ErrorContext(ctx, "change handler failed", "error", err)
			}
		}
	}
}

func relevant(event fsnotify.Event, target string) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
