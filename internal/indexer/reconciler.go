package indexer

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/metrics"
	"github.com/roelfdiedericks/openlens/internal/store"
)

// ReconcilerConfig configures the periodic filesystem scan.
type ReconcilerConfig struct {
	Interval        time.Duration // between scans (default 30s)
	MaxFilesPerScan int           // safety cap per scan (default 10000)
}

// ReconcilerStats counts scan activity.
type ReconcilerStats struct {
	ScansCompleted   int64
	FilesFound       int64
	LastScanDuration time.Duration
	LastScanFiles    int
}

// Reconciler periodically scans the storage tree for files the watcher
// missed (restarts, dropped events, full queues) and hands them to the
// incremental loader. New files are found with a glob anti-join against the
// ledger; modified files by a bounded mtime re-check of ledger rows.
type Reconciler struct {
	storagePath string
	st          *store.Store
	config      ReconcilerConfig
	onFiles     func([]fileEvent)

	mu      sync.Mutex
	scanMu  sync.Mutex // serializes scan operations
	cron    *cron.Cron
	entryID cron.EntryID
	running bool

	stats ReconcilerStats
}

// NewReconciler creates a reconciler. onFiles receives each scan's findings
// on a dedicated goroutine so the scan loop never blocks on ingestion.
func NewReconciler(storagePath string, st *store.Store, config ReconcilerConfig, onFiles func([]fileEvent)) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.MaxFilesPerScan <= 0 {
		config.MaxFilesPerScan = 10000
	}
	return &Reconciler{
		storagePath: storagePath,
		st:          st,
		config:      config,
		onFiles:     onFiles,
	}
}

// Start begins periodic scanning. Idempotent.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.config.Interval)
	entryID, err := r.cron.AddFunc(spec, func() {
		if _, err := r.ScanNow(); err != nil {
			logging.L_warn("reconciler: scan failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciler: %w", err)
	}
	r.entryID = entryID
	r.cron.Start()
	r.running = true

	logging.L_info("reconciler: started", "interval", r.config.Interval,
		"cap", r.config.MaxFilesPerScan)
	return nil
}

// Stop halts scanning and waits briefly for a running scan to finish.
// Idempotent; safe without Start.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false

	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		logging.L_warn("reconciler: scan did not finish before stop timeout")
	}
	r.cron = nil
	logging.L_info("reconciler: stopped")
}

// ScanNow executes one scan synchronously. Concurrent calls serialize on
// the scan mutex.
func (r *Reconciler) ScanNow() ([]fileEvent, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	start := time.Now()
	found, err := r.findMissingFiles()
	if err != nil {
		metrics.Count("indexer/reconciler", "scan_errors")
		return nil, err
	}

	elapsed := time.Since(start)
	r.mu.Lock()
	r.stats.ScansCompleted++
	r.stats.FilesFound += int64(len(found))
	r.stats.LastScanDuration = elapsed
	r.stats.LastScanFiles = len(found)
	r.mu.Unlock()

	metrics.Observe("indexer/reconciler", "scan", elapsed)
	logging.L_debug("reconciler: scan completed", "files", len(found), "duration", elapsed)

	if len(found) > 0 && r.onFiles != nil {
		// Callback on its own goroutine so the scan loop is never blocked
		// by a slow consumer.
		go r.onFiles(found)
	}
	return found, nil
}

// Stats returns a copy of the current counters.
func (r *Reconciler) Stats() ReconcilerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// findMissingFiles computes new files (glob anti-join against the ledger)
// and modified files (ledger rows whose disk mtime moved past the stored
// one). Both sets are bounded by MaxFilesPerScan; the mtime re-check stats
// at most twice the remaining allowance.
func (r *Reconciler) findMissingFiles() ([]fileEvent, error) {
	if _, err := os.Stat(r.storagePath); err != nil {
		return nil, nil
	}

	maxFiles := r.config.MaxFilesPerScan

	queryNew := fmt.Sprintf(`
		WITH filesystem AS (
			SELECT file AS path
			FROM glob('%s/**/*.json')
		)
		SELECT f.path
		FROM filesystem f
		LEFT JOIN file_processing_state i ON f.path = i.file_path
		WHERE i.file_path IS NULL
		LIMIT %d
	`, r.storagePath, maxFiles)

	rows, err := r.st.DB().Query(queryNew)
	if err != nil {
		return nil, fmt.Errorf("reconciler new-file query failed: %w", err)
	}

	var found []fileEvent
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, err
		}
		if fileType := fileTypeOfPath(r.storagePath, path); fileType != "" {
			found = append(found, fileEvent{Path: path, FileType: fileType})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	remaining := maxFiles - len(found)
	if remaining <= 0 {
		return found, nil
	}

	queryModified := fmt.Sprintf(`
		WITH filesystem AS (
			SELECT file AS path
			FROM glob('%s/**/*.json')
		)
		SELECT i.file_path, i.file_type, COALESCE(i.last_modified, 0)
		FROM file_processing_state i
		INNER JOIN filesystem f ON i.file_path = f.path
		WHERE i.status = '%s'
		LIMIT %d
	`, r.storagePath, StatusProcessed, remaining*2)

	modRows, err := r.st.DB().Query(queryModified)
	if err != nil {
		return found, fmt.Errorf("reconciler modified-file query failed: %w", err)
	}
	defer modRows.Close()

	modified := 0
	for modRows.Next() {
		if modified >= remaining {
			break
		}
		var path, fileType string
		var storedMtime float64
		if err := modRows.Scan(&path, &fileType, &storedMtime); err != nil {
			return found, err
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		mtime := float64(info.ModTime().UnixMilli()) / 1000.0
		if mtime > storedMtime {
			found = append(found, fileEvent{Path: path, FileType: fileType})
			modified++
		}
	}
	return found, modRows.Err()
}

// fileTypeOfPath infers the file type from the first path segment under the
// storage root, "" for paths outside the known type directories.
func fileTypeOfPath(storagePath, path string) string {
	if len(path) <= len(storagePath)+1 {
		return ""
	}
	rel := path[len(storagePath)+1:]
	for _, fileType := range fileTypes {
		if len(rel) > len(fileType) && rel[:len(fileType)] == fileType && rel[len(fileType)] == '/' {
			return fileType
		}
	}
	return ""
}
