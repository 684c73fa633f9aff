package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"driftsync/pkg/logging"
)

// ChangeOperation classifies a change to an application file.
type ChangeOperation string

const (
	OperationUpsert ChangeOperation = "upsert"
	OperationDelete ChangeOperation = "delete"
)

// ChangeEvent reports a change to one application file in the apps/
// directory.
type ChangeEvent struct {
	Name      string
	Operation ChangeOperation
	Timestamp time.Time
}

// Watcher watches the apps/ directory and emits debounced change events,
// so that directly edited files converge the same way API writes do.
type Watcher struct {
	mu sync.Mutex

	dir              string
	watcher          *fsnotify.Watcher
	debounceInterval time.Duration
	pending          map[string]*pendingChange
	running          bool
}

type pendingChange struct {
	event ChangeEvent
	timer *time.Timer
}

// NewWatcher creates a watcher over the store's directory. A zero debounce
// interval defaults to 500ms; editors fire several events per save.
func NewWatcher(s *Store, debounceInterval time.Duration) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{
		dir:              s.Dir(),
		debounceInterval: debounceInterval,
		pending:          make(map[string]*pendingChange),
	}
}

// Start begins watching and emits events on changes until ctx is done.
func (w *Watcher) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		w.mu.Unlock()
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}

	w.watcher = fsw
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx, changes)

	logging.Info("Store", "Watching %s for application changes", w.dir)
	return nil
}

func (w *Watcher) loop(ctx context.Context, changes chan<- ChangeEvent) {
	defer w.cleanup()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event, changes)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Store", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, changes chan<- ChangeEvent) {
	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".yaml" && ext != ".yml" {
		return
	}

	name := strings.TrimSuffix(filepath.Base(event.Name), filepath.Ext(event.Name))

	var op ChangeOperation
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		op = OperationUpsert
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// a rename away reads as delete; the new name triggers its own create
		op = OperationDelete
	default:
		return
	}

	w.debounce(ChangeEvent{Name: name, Operation: op, Timestamp: time.Now()}, changes)
}

// debounce coalesces rapid successive events per application; the last
// operation within the window wins.
func (w *Watcher) debounce(event ChangeEvent, changes chan<- ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.pending[event.Name]; ok {
		entry.timer.Stop()
	}

	timer := time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		entry, ok := w.pending[event.Name]
		if ok {
			delete(w.pending, event.Name)
		}
		w.mu.Unlock()

		if !ok {
			return
		}
		select {
		case changes <- entry.event:
			logging.Debug("Store", "Detected %s of application %s", entry.event.Operation, entry.event.Name)
		default:
			logging.Warn("Store", "Change channel full, dropping event for %s", entry.event.Name)
		}
	})

	w.pending[event.Name] = &pendingChange{event: event, timer: timer}
}

func (w *Watcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, entry := range w.pending {
		entry.timer.Stop()
	}
	w.pending = make(map[string]*pendingChange)

	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	w.running = false
}
