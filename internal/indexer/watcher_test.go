package indexer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupWatcherEnv(t *testing.T) (*Watcher, *Loader, *Ledger, *SyncState, string) {
	t.Helper()
	st := setupTestStore(t)
	syncState, err := NewSyncState(st)
	if err != nil {
		t.Fatalf("NewSyncState failed: %v", err)
	}
	ledger := NewLedger(st)
	loader := NewLoader(st, ledger, syncState)

	storage := t.TempDir()
	for _, fileType := range fileTypes {
		if err := os.MkdirAll(filepath.Join(storage, fileType), 0750); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
	}

	w := NewWatcher(storage, syncState, ledger, loader, 50*time.Millisecond)
	return w, loader, ledger, syncState, storage
}

func TestWatcherFileTypeInference(t *testing.T) {
	w, _, _, _, storage := setupWatcherEnv(t)

	cases := []struct {
		path string
		want string
	}{
		{filepath.Join(storage, "session", "p1", "s1.json"), "session"},
		{filepath.Join(storage, "message", "s1", "m1.json"), "message"},
		{filepath.Join(storage, "part", "s1", "p1.json"), "part"},
		{filepath.Join(storage, "other", "x.json"), ""},
		{"/elsewhere/session/p1/s1.json", ""},
	}
	for _, c := range cases {
		if got := w.fileTypeOf(c.path); got != c.want {
			t.Errorf("fileTypeOf(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestWatcherLiveAppend(t *testing.T) {
	// Scenario: with the pipeline live, a new message file appears and is
	// ingested through the watcher path (polled for up to three seconds).
	w, loader, _, syncState, storage := setupWatcherEnv(t)
	st := loader.st

	if err := syncState.StartBulk(epochSeconds(time.Now().Add(-time.Minute)), 0); err != nil {
		t.Fatalf("StartBulk failed: %v", err)
	}
	if err := syncState.SetPhase(PhaseRealtime); err != nil {
		t.Fatalf("SetPhase failed: %v", err)
	}

	// Pre-create the session subdirectory so the file create event is not
	// raced against the directory watch registration.
	if err := os.MkdirAll(filepath.Join(storage, "message", "s1"), 0750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	loader.Start()
	defer loader.Stop()
	if err := w.Start(); err != nil {
		t.Fatalf("watcher Start failed: %v", err)
	}
	defer w.Stop()

	path := writeStorageFile(t, storage, "message", "s1", "m2",
		messageJSON("m2", "s1", "assistant", "", time.Now().UnixMilli(), map[string]interface{}{
			"input":  1,
			"output": 1,
		}))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n := countRows(t, st, `SELECT COUNT(*) FROM messages WHERE id = 'm2'`); n == 1 {
			ledgerInfo, err := NewLedger(st).Info(path)
			if err != nil || ledgerInfo == nil || ledgerInfo.Status != StatusProcessed {
				t.Fatalf("expected processed ledger entry, got %+v err=%v", ledgerInfo, err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("live message was never ingested")
}

func TestWatcherDropsPreCutoffFiles(t *testing.T) {
	w, loader, _, syncState, storage := setupWatcherEnv(t)

	// Cutoff in the future: every file's mtime is before it.
	if err := syncState.StartBulk(epochSeconds(time.Now().Add(time.Hour)), 0); err != nil {
		t.Fatalf("StartBulk failed: %v", err)
	}

	path := writeStorageFile(t, storage, "part", "s1", "p1",
		taskPartJSON("p1", "s1", "m1", "completed", 1600, 1800, nil))

	w.flush(path, "part")
	if loader.QueueSize() != 0 {
		t.Error("pre-cutoff file must not be enqueued")
	}
}

func TestWatcherDropsLedgeredFiles(t *testing.T) {
	w, loader, ledger, _, storage := setupWatcherEnv(t)

	path := writeStorageFile(t, storage, "part", "s1", "p1",
		taskPartJSON("p1", "s1", "m1", "completed", 1600, 1800, nil))

	info := mustStat(t, path)
	mtime := float64(info.ModTime().UnixMilli()) / 1000.0
	if err := ledger.Mark(path, "part", StatusProcessed, "", mtime); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	w.flush(path, "part")
	if loader.QueueSize() != 0 {
		t.Error("ledgered file with current mtime must not be enqueued")
	}

	// But a stale ledger mtime lets it through.
	if err := ledger.Mark(path, "part", StatusProcessed, "", mtime-10); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	w.flush(path, "part")
	if loader.QueueSize() != 1 {
		t.Error("file modified after its ledger entry must be enqueued")
	}
}

func TestWatcherDebounceCoalesces(t *testing.T) {
	w, loader, _, _, storage := setupWatcherEnv(t)

	path := writeStorageFile(t, storage, "part", "s1", "p1",
		taskPartJSON("p1", "s1", "m1", "completed", 1600, 1800, nil))

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	// A burst of events for the same path arms a single timer.
	for i := 0; i < 5; i++ {
		w.schedule(path, "part")
	}

	w.mu.Lock()
	timers := len(w.timers)
	w.mu.Unlock()
	if timers != 1 {
		t.Errorf("expected 1 debounce timer, got %d", timers)
	}

	deadline := time.Now().Add(2 * time.Second)
	for loader.QueueSize() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := loader.QueueSize(); got != 1 {
		t.Errorf("expected exactly 1 enqueued event after burst, got %d", got)
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	w, _, _, _, _ := setupWatcherEnv(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()
	w.Stop()
}
