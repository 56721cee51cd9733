package indexer

import (
	"sync"
	"testing"
	"time"
)

func TestReconcilerFindsNewFiles(t *testing.T) {
	st := setupTestStore(t)
	storage := t.TempDir()

	writeStorageFile(t, storage, "part", "s1", "p2",
		taskPartJSON("p2", "s1", "m1", "completed", 1600, 1800, nil))

	var mu sync.Mutex
	var received []fileEvent
	rec := NewReconciler(storage, st, ReconcilerConfig{}, func(files []fileEvent) {
		mu.Lock()
		received = append(received, files...)
		mu.Unlock()
	})

	found, err := rec.ScanNow()
	if err != nil {
		t.Fatalf("ScanNow failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 new file, got %d", len(found))
	}
	if found[0].FileType != "part" {
		t.Errorf("expected part type, got %q", found[0].FileType)
	}

	// Callback is dispatched asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("callback never received the found files")
}

func TestReconcilerSkipsLedgeredFiles(t *testing.T) {
	st := setupTestStore(t)
	ledger := NewLedger(st)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "session", "p1", "s1",
		sessionJSON("s1", "p1", "", 1000, 2000))

	// Record the file with its current mtime: nothing to find.
	info := mustStat(t, path)
	if err := ledger.Mark(path, "session", StatusProcessed, "",
		float64(info.ModTime().UnixMilli())/1000.0); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	rec := NewReconciler(storage, st, ReconcilerConfig{}, nil)
	found, err := rec.ScanNow()
	if err != nil {
		t.Fatalf("ScanNow failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected nothing, got %d files", len(found))
	}
}

func TestReconcilerDetectsModifiedFiles(t *testing.T) {
	st := setupTestStore(t)
	ledger := NewLedger(st)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "session", "p1", "s1",
		sessionJSON("s1", "p1", "", 1000, 2000))

	// Ledger mtime older than the file on disk: the scan flags it.
	if err := ledger.Mark(path, "session", StatusProcessed, "", 1.0); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}

	rec := NewReconciler(storage, st, ReconcilerConfig{}, nil)
	found, err := rec.ScanNow()
	if err != nil {
		t.Fatalf("ScanNow failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 modified file, got %d", len(found))
	}
	if found[0].Path != path {
		t.Errorf("expected %q, got %q", path, found[0].Path)
	}
}

func TestReconcilerRespectsScanCap(t *testing.T) {
	st := setupTestStore(t)
	storage := t.TempDir()

	for i := 0; i < 10; i++ {
		id := "p" + string(rune('0'+i))
		writeStorageFile(t, storage, "part", "s1", id,
			taskPartJSON(id, "s1", "m1", "completed", 1600, 1800, nil))
	}

	rec := NewReconciler(storage, st, ReconcilerConfig{MaxFilesPerScan: 4}, nil)
	found, err := rec.ScanNow()
	if err != nil {
		t.Fatalf("ScanNow failed: %v", err)
	}
	if len(found) > 4 {
		t.Errorf("scan cap violated: got %d files", len(found))
	}
}

func TestReconcilerStartStopIdempotent(t *testing.T) {
	st := setupTestStore(t)
	storage := t.TempDir()

	rec := NewReconciler(storage, st, ReconcilerConfig{Interval: time.Hour}, nil)
	rec.Stop() // stop without start is a no-op

	if err := rec.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	rec.Stop()
	rec.Stop()
}

func TestReconcilerRecoversWatcherMiss(t *testing.T) {
	// Scenario: with the watcher stopped, a new part file appears; one
	// reconciler scan later the row exists and the ledger shows the file
	// processed, without any watcher event.
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	ledger := NewLedger(st)
	loader := NewLoader(st, ledger, syncState)
	loader.Start()
	defer loader.Stop()

	storage := t.TempDir()
	path := writeStorageFile(t, storage, "part", "s1", "p2",
		taskPartJSON("p2", "s1", "m1", "completed", 2000, 2500, nil))

	rec := NewReconciler(storage, st, ReconcilerConfig{}, func(files []fileEvent) {
		for _, f := range files {
			loader.Enqueue(f.Path, f.FileType)
		}
	})

	if _, err := rec.ScanNow(); err != nil {
		t.Fatalf("ScanNow failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n := countRows(t, st, `SELECT COUNT(*) FROM parts WHERE id = 'p2'`); n == 1 {
			info, err := ledger.Info(path)
			if err != nil || info == nil || info.Status != StatusProcessed {
				t.Fatalf("expected processed ledger row, got %+v err=%v", info, err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("part was never ingested via the reconciler path")
}
