package roster

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the roster set when the importer rewrites the snapshot
// file. Events are debounced because importers typically write in several
// bursts (truncate, write, rename).
type Watcher struct {
	set       *Set
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	log       *slog.Logger
	onReload  func(hash string, count int)
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher for the set's roster file. onReload may be
// nil; when set it runs after every successful reload.
func NewWatcher(set *Set, log *slog.Logger, onReload func(hash string, count int)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating roster watcher: %w", err)
	}

	w := &Watcher{set: set, watcher: fsw, log: log, onReload: onReload}
	w.debouncer = NewDebouncer(500*time.Millisecond, w.reload)

	// Watch the parent directory: replace-by-rename is the common importer
	// pattern and a watch on the file itself would go stale.
	if err := fsw.Add(filepath.Dir(set.path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching roster directory: %w", err)
	}
	return w, nil
}

// Start begins monitoring until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(w.set.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.debouncer.Trigger()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("roster watcher error", "error", err)
			}
		}
	}()
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	w.debouncer.Cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) reload() {
	hash, count, err := w.set.Reload()
	if err != nil {
		w.log.Error("roster reload failed", "error", err)
		return
	}
	w.log.Info("roster reloaded", "entries", count, "hash", shortHash(hash))
	if w.onReload != nil {
		w.onReload(hash, count)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Debouncer coalesces a burst of triggers into one callback after a quiet
// period.
type Debouncer struct {
	d     time.Duration
	fn    func()
	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer that runs fn once d after the last
// Trigger.
func NewDebouncer(d time.Duration, fn func()) *Debouncer {
	return &Debouncer{d: d, fn: fn}
}

// Trigger schedules (or reschedules) the callback.
func (db *Debouncer) Trigger() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.d, db.fn)
}

// Cancel stops any scheduled callback.
func (db *Debouncer) Cancel() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}
