// Package tokenwatch notices when the persisted token file changes outside
// this process (another CLI invocation logged in or out) so that a long
// running session can drop its cached tokens and re-check its state.
package tokenwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce collapses the burst of events an atomic rename produces
	// (create temp, write, chmod, rename) into one notification.
	DefaultDebounce = 250 * time.Millisecond

	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// FsWatcher abstracts fsnotify.Watcher for testing.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWrapper adapts *fsnotify.Watcher, whose channels are fields, to
// FsWatcher.
type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

// Watcher runs a callback after the token file was created, rewritten or
// removed. The parent directory is watched rather than the file itself
// because the file is replaced by rename on every save.
type Watcher struct {
	path     string
	onChange func()
	logger   *slog.Logger

	// Debounce is the quiet period after the last event before OnChange
	// runs. Zero means DefaultDebounce.
	Debounce time.Duration

	watcherFactory func() (FsWatcher, error)
	sleepFunc      func(ctx context.Context, d time.Duration) error
}

// New creates a Watcher for the token file at path.
func New(path string, onChange func(), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:           filepath.Clean(path),
		onChange:       onChange,
		logger:         logger,
		watcherFactory: newFsnotifyWatcher,
		sleepFunc:      timeSleep,
	}
}

// Run blocks until ctx is canceled or the underlying watcher closes.
// Returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("tokenwatch: creating watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("tokenwatch: watching %s: %w", dir, err)
	}

	w.logger.Debug("watching token file", slog.String("path", w.path))

	return w.watchLoop(ctx, fw)
}

func (w *Watcher) debounce() time.Duration {
	if w.Debounce > 0 {
		return w.Debounce
	}

	return DefaultDebounce
}

// watchLoop processes fsnotify events, watcher errors, the debounce timer and
// context cancellation.
func (w *Watcher) watchLoop(ctx context.Context, fw FsWatcher) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	defer timer.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			if !w.relevant(ev) {
				continue
			}

			w.logger.Debug("token file event",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)

			timer.Reset(w.debounce())
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("token file watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-timer.C:
			w.onChange()
		}
	}
}

// relevant reports whether ev touches the token file or, for the SQLite
// store, its write-ahead log. A chmod alone does not change the content.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name := filepath.Clean(ev.Name)
	if name != w.path && name != w.path+"-wal" {
		return false
	}

	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
		ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
