// Package watch reports changes to source files so a task can be re-run.
package watch

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/kaubo/internal/logging"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls a handler with the changed files once events settle.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(paths []string)
	logger   *logging.Logger

	mu    sync.Mutex
	files map[string]bool // absolute file path -> watched
	dirs  map[string]int  // directory -> watched files in it
}

// New creates a Watcher. A debounce of zero or less uses DefaultDebounce.
func New(debounce time.Duration, onChange func(paths []string), logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
	}, nil
}

// Add starts watching path. The parent directory is watched so that
// editors that replace the file on save are still seen.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[abs] {
		return nil
	}
	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[abs] = true
	return nil
}

// Remove stops watching path.
func (w *Watcher) Remove(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[abs] {
		return
	}
	delete(w.files, abs)
	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		_ = w.watcher.Remove(dir)
	}
}

// Files returns the watched files in sorted order.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func (w *Watcher) watched(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[filepath.Clean(name)]
}

// Run delivers debounced changes until ctx is done, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(0)
	<-timer.C
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !w.watched(ev.Name) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			slices.Sort(paths)
			pending = make(map[string]bool)
			w.logger.Debug("source changed", "files", paths)
			if w.onChange != nil {
				w.onChange(paths)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}
