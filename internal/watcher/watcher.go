// Package watcher reports snapshot files rewritten by the fetcher.
//
// The feed directory is watched as a whole. Events for the same file within
// the debounce window collapse into one report, and reports arrive as
// batches of absolute paths in name order.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"skein/internal/logging"
)

// DefaultDebounce is how long the directory must stay quiet before a batch
// is reported.
const DefaultDebounce = 200 * time.Millisecond

// ErrNotDirectory is returned when the watched path is not a directory.
var ErrNotDirectory = errors.New("watcher: not a directory")

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithMatch restricts reports to base names accepted by fn.
func WithMatch(fn func(name string) bool) Option {
	return func(w *Watcher) { w.match = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// Watcher monitors one directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	match    func(string) bool
	logger   *slog.Logger
}

// New prepares a watcher for dir.
func New(dir string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}

	w := &Watcher{
		dir:      abs,
		debounce: DefaultDebounce,
		match:    func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	w.logger = logging.NewComponentLogger(w.logger, "watcher")
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run sends batches of changed paths to out until ctx is done. A pending
// batch is dropped on cancellation.
func (w *Watcher) Run(ctx context.Context, out chan<- []string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.match(filepath.Base(event.Name)) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "watch error", "watch_error",
				logging.String("dir", w.dir),
				logging.String(logging.FieldImpact, "some snapshot changes may go unnoticed until the next refresh"),
				logging.Error(err),
			)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for name := range pending {
				batch = append(batch, name)
			}
			slices.Sort(batch)
			clear(pending)
			w.logger.Debug("snapshots changed", logging.Int("count", len(batch)))
			select {
			case out <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
