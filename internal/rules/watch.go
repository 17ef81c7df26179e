package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the rule file must be quiet before it is reloaded.
const DefaultWatchDebounce = 100 * time.Millisecond

// Watcher reloads a Store when its JSON rule file is changed by another
// process. The store's own saves are recognised by content hash and skipped.
type Watcher struct {
	store    *Store
	backend  *JSONBackend
	logger   *slog.Logger
	debounce time.Duration

	fsWatcher *fsnotify.Watcher
	errors    chan error
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending *time.Timer
	reloads int
}

// NewWatcher creates a watcher for backend's rule file feeding store.
func NewWatcher(store *Store, backend *JSONBackend, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:    store,
		backend:  backend,
		logger:   logger,
		debounce: DefaultWatchDebounce,
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
}

// Errors returns the channel of reload errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Reloads returns the number of reloads triggered so far.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Start begins watching. The rule file's directory is watched because
// editors and our own saves replace the file by rename.
func (w *Watcher) Start() error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.backend.Path())
	if err := os.MkdirAll(dir, permRulesDir); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("create rules directory: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.fsWatcher = fsWatcher

	w.wg.Add(1)
	go w.eventLoop()
	return nil
}

// Stop shuts the watcher down and waits for its goroutine.
func (w *Watcher) Stop() error {
	if w.fsWatcher == nil {
		return nil
	}
	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	name := filepath.Base(w.backend.Path())

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.schedule()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.check)
}

func (w *Watcher) check() {
	select {
	case <-w.done:
		return
	default:
	}

	data, err := os.ReadFile(w.backend.Path())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.report(fmt.Errorf("read rule file: %w", err))
		}
		return
	}
	if w.backend.IsOwnWrite(data) {
		return
	}

	if err := w.store.Reload(); err != nil {
		w.logger.Warn("rule file changed but could not be reloaded; keeping current rules", "error", err)
		w.report(err)
		return
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
