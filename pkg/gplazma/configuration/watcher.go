package configuration

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dcache/gplazma/internal/logger"
)

// DefaultDebounce is how long the watcher waits after the last change
// before triggering a reload.
const DefaultDebounce = 200 * time.Millisecond

// Watcher triggers a callback when a configuration file changes.
//
// The file's directory is watched rather than the file itself so that
// editors replacing the file via rename are still noticed. Bursts of events
// are collapsed into a single callback after the debounce interval.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	fsw      *fsnotify.Watcher
}

// NewWatcher starts watching path. onChange is invoked from the watcher
// goroutine; it must not block for long.
func NewWatcher(path string, debounce time.Duration, onChange func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	return &Watcher{path: abs, debounce: debounce, onChange: onChange, fsw: fsw}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
// Watch errors are logged, never returned.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.fsw.Close() }()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("login configuration changed", logger.KeyConfigPath, w.path, "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			timer, fire = nil, nil
			w.onChange()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("login configuration watch error", logger.KeyConfigPath, w.path, logger.KeyError, err)
		}
	}
}
