// Package watch re-runs an action whenever a watched file changes.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDefault is the default quiet period after a file event.
const DebounceDefault = 200 * time.Millisecond

// FileWatcher calls Handler after writes to one file settle. The parent
// directory is watched so editors that replace the file by rename are
// still observed.
type FileWatcher struct {
	path     string
	handler  func(ctx context.Context, path string)
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a watcher for path.
func New(path string, handler func(ctx context.Context, path string)) *FileWatcher {
	return &FileWatcher{
		path:     path,
		handler:  handler,
		debounce: DebounceDefault,
		logger:   slog.Default(),
	}
}

// WithDebounce sets the quiet period.
func (w *FileWatcher) WithDebounce(d time.Duration) *FileWatcher {
	w.debounce = d
	return w
}

// WithLogger sets the logger.
func (w *FileWatcher) WithLogger(l *slog.Logger) *FileWatcher {
	if l != nil {
		w.logger = l
	}
	return w
}

// Run watches until ctx is cancelled. The handler runs on the watch
// goroutine, so invocations never overlap.
func (w *FileWatcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.logger.Debug("watching", "path", abs, "debounce", w.debounce)

	// Single debounce timer, reset on each event. Initialized stopped;
	// the first event starts it.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			w.handler(ctx, abs)

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("file event", "op", event.Op.String(), "path", event.Name)

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}
