package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/notifyhub/server/notification"
)

const debounceInterval = 100 * time.Millisecond

// Publisher publishes a notification to local handlers.
type Publisher interface {
	Publish(ctx context.Context, n notification.Notification) error
}

// FileWatcher watches a directory via fsnotify and publishes a FileChanged
// notification per changed path, debounced.
type FileWatcher struct {
	dir       string
	publisher Publisher
	watcher   *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	timerMu  sync.Mutex
	timerMap map[string]*time.Timer
	lastOp   map[string]fsnotify.Op
}

func NewFileWatcher(dir string, publisher Publisher) *FileWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &FileWatcher{
		dir:       dir,
		publisher: publisher,
		ctx:       ctx,
		cancel:    cancel,
		timerMap:  make(map[string]*time.Timer),
		lastOp:    make(map[string]fsnotify.Op),
	}
}

func (w *FileWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	go w.eventLoop()
	slog.Info("FileWatcher started", "dir", w.dir)
	return nil
}

func (w *FileWatcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}

	// Cancel any pending debounce timers
	w.timerMu.Lock()
	for _, timer := range w.timerMap {
		timer.Stop()
	}
	w.timerMap = make(map[string]*time.Timer)
	w.lastOp = make(map[string]fsnotify.Op)
	w.timerMu.Unlock()

	slog.Info("FileWatcher stopped")
}

func (w *FileWatcher) eventLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", "error", err)
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	relPath, err := filepath.Rel(w.dir, event.Name)
	if err != nil {
		slog.Error("failed to get relative path", "path", event.Name, "error", err)
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	w.lastOp[relPath] = event.Op
	if timer, exists := w.timerMap[relPath]; exists {
		timer.Stop()
	}
	w.timerMap[relPath] = time.AfterFunc(debounceInterval, func() {
		w.timerMu.Lock()
		op := w.lastOp[relPath]
		delete(w.timerMap, relPath)
		delete(w.lastOp, relPath)
		w.timerMu.Unlock()

		w.publishPath(relPath, op)
	})
}

func (w *FileWatcher) publishPath(path string, op fsnotify.Op) {
	// Skip if watcher is stopped (timer may fire after Stop)
	if w.ctx.Err() != nil {
		return
	}

	n := notification.FileChanged{Path: filepath.ToSlash(path), Op: op.String()}
	if err := w.publisher.Publish(w.ctx, n); err != nil {
		slog.Debug("failed to publish file change", "path", path, "error", err)
		return
	}
	slog.Debug("published file change", "path", path, "op", n.Op)
}
