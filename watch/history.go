package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 100 * time.Millisecond

// HistoryWatcher calls OnChange when conversation records change on disk,
// including changes made by other processes sharing the data directory.
// Bursts of events are coalesced into one call.
type HistoryWatcher struct {
	dir      string
	match    func(name string) bool
	onChange func()
	debounce time.Duration

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewHistoryWatcher watches dir. match selects the file names that count as
// conversation records; nil matches every file.
func NewHistoryWatcher(dir string, match func(name string) bool, onChange func()) *HistoryWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &HistoryWatcher{
		dir:      dir,
		match:    match,
		onChange: onChange,
		debounce: debounceInterval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// JSONRecords matches the file store's <id>.json records.
func JSONRecords(name string) bool {
	return filepath.Ext(name) == ".json"
}

// File matches a single file, such as a bolt database.
func File(path string) func(string) bool {
	base := filepath.Base(path)
	return func(name string) bool { return name == base }
}

func (w *HistoryWatcher) Start() error {
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
	slog.Info("HistoryWatcher started", "dir", w.dir)
	return nil
}

func (w *HistoryWatcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
		<-w.done
	}

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	slog.Info("HistoryWatcher stopped")
}

// Run starts the watcher and blocks until ctx is done.
func (w *HistoryWatcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *HistoryWatcher) eventLoop() {
	defer close(w.done)
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

func (w *HistoryWatcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	if w.match != nil && !w.match(filepath.Base(event.Name)) {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.ctx.Err() != nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if w.ctx.Err() != nil {
			return
		}
		slog.Debug("conversation history changed", "dir", w.dir)
		w.onChange()
	})
}
