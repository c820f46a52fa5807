// Package watch reruns the pipeline when the input spreadsheet changes.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce separates a burst of editor write events from the next
// real change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches one dataset file and invokes OnChange after each settled
// modification. Spreadsheet editors typically write a temp file and rename
// it into place, so the parent directory is watched rather than the file.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration

	// OnChange runs after the file settles. Required before Run.
	OnChange func(path string) error

	// OnError receives watch or callback failures. Optional.
	OnError func(path string, err error)

	mu         sync.Mutex
	lastMod    time.Time
	lastSize   int64
	processing bool
}

// New creates a watcher for path. The file must exist.
func New(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	stat, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		watcher:  fw,
		path:     abs,
		debounce: DefaultDebounce,
		lastMod:  stat.ModTime(),
		lastSize: stat.Size(),
	}, nil
}

// WithDebounce overrides the settle delay.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Run blocks until ctx is cancelled, dispatching OnChange as the file
// changes.
func (w *Watcher) Run(ctx context.Context) error {
	if w.OnChange == nil {
		return fmt.Errorf("watch: OnChange is not set")
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if abs, err := filepath.Abs(event.Name); err != nil || abs != w.path {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.handleChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(w.path, err)
			}
		}
	}
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	if w.processing {
		w.mu.Unlock()
		return
	}
	w.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.processing = false
		w.mu.Unlock()
	}()

	stat, err := os.Stat(w.path)
	if err != nil {
		if w.OnError != nil {
			w.OnError(w.path, err)
		}
		return
	}

	w.mu.Lock()
	unchanged := stat.ModTime().Equal(w.lastMod) && stat.Size() == w.lastSize
	if !unchanged {
		w.lastMod = stat.ModTime()
		w.lastSize = stat.Size()
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	if err := w.OnChange(w.path); err != nil && w.OnError != nil {
		w.OnError(w.path, err)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
