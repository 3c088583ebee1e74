package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 300 * time.Millisecond

// ReloadFunc is called with the path of a changed file.
type ReloadFunc func(path string) error

// Watcher watches files for changes and calls their reload functions.
// Parent directories are watched so that atomic rename-on-save is seen.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	mu      sync.Mutex
	files   map[string]ReloadFunc
	dirs    map[string]bool
	pending map[string]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigWatchError, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		fsWatcher: fsWatcher,
		debounce:  debounce,
		files:     make(map[string]ReloadFunc),
		dirs:      make(map[string]bool),
		pending:   make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Add registers fn to run when path changes.
func (w *Watcher) Add(path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWatchError, err)
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("%w: watch %s: %v", ErrConfigWatchError, dir, err)
		}
		w.dirs[dir] = true
	}
	w.files[abs] = fn
	return nil
}

// Start begins delivering change events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.schedule(filepath.Clean(event.Name))

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Config] ⚠️ Watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fn, ok := w.files[path]
	if !ok {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		if w.ctx.Err() != nil {
			return
		}
		if err := fn(path); err != nil {
			log.Printf("[Config] ⚠️ Reload %s failed: %v", path, err)
			return
		}
		log.Printf("[Config] ✅ Reloaded %s", path)
	})
}
