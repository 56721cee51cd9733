package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/metrics"
)

// Watcher observes the storage tree for created and modified JSON files and
// feeds them to the incremental loader. Files older than the bulk cutoff T0
// or already covered by the ledger are dropped.
//
// The event-dispatch goroutine never touches the store; the ledger check
// runs on the debounce timer's goroutine so dispatch can't stall behind
// store I/O.
type Watcher struct {
	storagePath string
	syncState   *SyncState
	ledger      *Ledger
	loader      *Loader
	debounce    time.Duration

	fw *fsnotify.Watcher

	mu       sync.Mutex
	running  bool
	timers   map[string]*time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the storage tree.
func NewWatcher(storagePath string, syncState *SyncState, ledger *Ledger, loader *Loader, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		storagePath: storagePath,
		syncState:   syncState,
		ledger:      ledger,
		loader:      loader,
		debounce:    debounce,
		timers:      make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
}

// Start begins watching. The type directories and their existing
// subdirectories are registered; new subdirectories are added as their
// create events arrive (fsnotify doesn't recurse).
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fw = fw

	watched := 0
	for _, fileType := range fileTypes {
		typeDir := filepath.Join(w.storagePath, fileType)
		if _, err := os.Stat(typeDir); err != nil {
			continue
		}
		if err := fw.Add(typeDir); err != nil {
			logging.L_warn("watcher: failed to watch", "dir", typeDir, "error", err)
			continue
		}
		watched++

		entries, err := os.ReadDir(typeDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			sub := filepath.Join(typeDir, entry.Name())
			if err := fw.Add(sub); err != nil {
				logging.L_debug("watcher: failed to watch subdir", "dir", sub, "error", err)
				continue
			}
			watched++
		}
	}

	w.running = true
	go w.dispatchLoop()

	logging.L_info("watcher: started", "dirs", watched, "debounce", w.debounce)
	return nil
}

// Stop shuts the watcher down. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		if !w.running {
			w.mu.Unlock()
			return
		}
		w.running = false
		close(w.done)
		for path, t := range w.timers {
			t.Stop()
			delete(w.timers, path)
		}
		fw := w.fw
		w.mu.Unlock()

		if fw != nil {
			fw.Close()
		}
		logging.L_info("watcher: stopped")
	})
}

// dispatchLoop drains fsnotify events. It only classifies and schedules;
// all filtering that needs I/O happens later on the debounce goroutine.
func (w *Watcher) dispatchLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			metrics.Count("indexer/watcher", "errors")
			logging.L_warn("watcher: error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// New project/session subdirectory: register it so its files are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fw.Add(event.Name); err != nil {
				logging.L_debug("watcher: failed to watch new dir", "dir", event.Name, "error", err)
			}
			return
		}
	}

	if !strings.HasSuffix(event.Name, ".json") {
		return
	}

	fileType := w.fileTypeOf(event.Name)
	if fileType == "" {
		return
	}

	w.schedule(event.Name, fileType)
}

// fileTypeOf infers the file type from the first path segment under the
// storage root.
func (w *Watcher) fileTypeOf(path string) string {
	rel, err := filepath.Rel(w.storagePath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) == 0 {
		return ""
	}
	for _, fileType := range fileTypes {
		if segments[0] == fileType {
			return fileType
		}
	}
	return ""
}

// schedule (re)arms the per-path debounce timer. Bursts of writes to the
// same file coalesce into a single ingest.
func (w *Watcher) schedule(path, fileType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.flush(path, fileType)
	})
}

// flush runs after the debounce window: apply the T0 and ledger filters,
// then hand the file to the loader.
func (w *Watcher) flush(path, fileType string) {
	info, err := os.Stat(path)
	if err != nil {
		return // deleted during debounce
	}
	mtime := float64(info.ModTime().UnixMilli()) / 1000.0

	// Files older than the cutoff belong to the bulk path.
	if t0 := w.syncState.T0(); t0 > 0 && mtime < t0 {
		logging.L_trace("watcher: pre-cutoff file dropped", "path", path)
		return
	}

	if ledgerInfo, err := w.ledger.Info(path); err == nil && ledgerInfo != nil {
		if ledgerInfo.LastModified >= mtime {
			logging.L_trace("watcher: already processed", "path", path)
			return
		}
	}

	metrics.Count("indexer/watcher", "events_enqueued")
	w.loader.Enqueue(path, fileType)
}
