package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/metrics"
	"github.com/roelfdiedericks/openlens/internal/store"
)

// fileTypes are the storage subdirectories the pipeline ingests. Hardcoded
// so nothing else can be interpolated into reader SQL.
var fileTypes = []string{"session", "message", "part"}

// BulkLoadResult reports one bulk sub-step.
type BulkLoadResult struct {
	FileType      string
	RowsLoaded    int64
	Duration      time.Duration
	RowsPerSecond float64
	Errors        int
}

// BulkLoader loads historical files (mtime < T0) directly via DuckDB's
// native JSON reader, bypassing per-file parsing entirely. After loading it
// marks every covered file in the ledger so the live paths skip them.
type BulkLoader struct {
	st          *store.Store
	ledger      *Ledger
	syncState   *SyncState
	deriver     *Deriver
	storagePath string
	memoryLimit string
}

// NewBulkLoader validates the storage path and builds a loader.
func NewBulkLoader(st *store.Store, ledger *Ledger, syncState *SyncState, storagePath, memoryLimit string) (*BulkLoader, error) {
	validated, err := validateStoragePath(storagePath)
	if err != nil {
		return nil, err
	}
	if memoryLimit == "" {
		memoryLimit = "4GB"
	}
	return &BulkLoader{
		st:          st,
		ledger:      NewLedgerIfNil(ledger, st),
		syncState:   syncState,
		deriver:     NewDeriver(st),
		storagePath: validated,
		memoryLimit: memoryLimit,
	}, nil
}

// NewLedgerIfNil returns ledger, or a fresh one over st.
func NewLedgerIfNil(ledger *Ledger, st *store.Store) *Ledger {
	if ledger != nil {
		return ledger
	}
	return NewLedger(st)
}

// validateStoragePath ensures the path exists, is a directory and is
// absolute. The returned path is interpolated into reader SQL, so single
// quotes are rejected outright rather than escaped.
func validateStoragePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("storage path does not exist: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("storage path is not a directory: %s", abs)
	}
	if strings.ContainsAny(abs, "'\x00") {
		return "", fmt.Errorf("storage path contains unsupported characters: %s", abs)
	}
	logging.L_debug("bulk: validated storage path", "path", abs)
	return abs, nil
}

// CountFiles counts candidate files by type via the store's glob, for
// progress reporting.
func (b *BulkLoader) CountFiles() (map[string]int, error) {
	counts := make(map[string]int, len(fileTypes))
	for _, fileType := range fileTypes {
		dir := filepath.Join(b.storagePath, fileType)
		if _, err := os.Stat(dir); err != nil {
			counts[fileType] = 0
			continue
		}
		var n int
		query := fmt.Sprintf(`SELECT COUNT(*) FROM glob('%s/**/*.json')`, dir)
		if err := b.st.DB().QueryRow(query).Scan(&n); err != nil {
			logging.L_debug("bulk: count failed", "type", fileType, "error", err)
			counts[fileType] = 0
			continue
		}
		counts[fileType] = n
	}
	return counts, nil
}

// LoadAll runs the full bulk sequence with the given cutoff: count, then
// sessions -> messages -> parts -> step events -> patches, deriving traces
// along the way, and finally the ledger barrier. Sub-step errors are
// counted, logged and do not abort the load.
func (b *BulkLoader) LoadAll(cutoff float64) (map[string]BulkLoadResult, error) {
	counts, err := b.CountFiles()
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	if err := b.syncState.StartBulk(cutoff, total); err != nil {
		return nil, err
	}

	return b.Run(PhaseBulkSessions, cutoff)
}

// Run executes the bulk sequence starting at the given phase with the given
// cutoff. Used directly by the coordinator when resuming after a crash: the
// phases already completed are skipped and the preserved cutoff keeps the
// bulk/live split stable.
func (b *BulkLoader) Run(from Phase, cutoff float64) (map[string]BulkLoadResult, error) {
	results := make(map[string]BulkLoadResult)
	done := 0

	if from.Ordinal() <= PhaseBulkSessions.Ordinal() {
		if err := b.syncState.SetPhase(PhaseBulkSessions); err != nil {
			return results, err
		}
		res := b.loadSessions(cutoff)
		results["session"] = res
		done += int(res.RowsLoaded)
		b.syncState.UpdateProgress(done, 0)
		if err := b.syncState.Checkpoint(); err != nil {
			return results, err
		}
	}

	if from.Ordinal() <= PhaseBulkMessages.Ordinal() {
		if err := b.syncState.SetPhase(PhaseBulkMessages); err != nil {
			return results, err
		}
		res := b.loadMessages(cutoff)
		results["message"] = res
		done += int(res.RowsLoaded)
		b.syncState.UpdateProgress(done, 0)
		if err := b.syncState.Checkpoint(); err != nil {
			return results, err
		}
	}

	if err := b.syncState.SetPhase(PhaseBulkParts); err != nil {
		return results, err
	}
	res := b.loadParts()
	results["part"] = res
	done += int(res.RowsLoaded)
	b.syncState.UpdateProgress(done, 0)
	if err := b.syncState.Checkpoint(); err != nil {
		return results, err
	}

	results["step_event"] = b.loadStepEvents()
	results["patch"] = b.loadPatches()
	if err := b.syncState.Checkpoint(); err != nil {
		return results, err
	}

	if err := b.deriver.DeriveSkills(); err != nil {
		logging.L_error("bulk: skill derivation failed", "error", err)
		metrics.Count("indexer/bulk", "derive_errors")
	}

	// The barrier: every historical file is recorded in the ledger so the
	// watcher and reconciler never re-ingest it.
	if cutoff > 0 {
		marked, err := b.markBulkFilesProcessed(cutoff)
		if err != nil {
			return results, err
		}
		logging.L_info("bulk: marked files processed", "count", marked)
	}

	return results, nil
}

// timeFilter builds the optional WHERE clause comparing the JSON-internal
// created timestamp against the cutoff.
func timeFilter(cutoff float64) string {
	if cutoff <= 0 {
		return ""
	}
	return fmt.Sprintf(`WHERE ("time".created / 1000.0) < %f`, cutoff)
}

// loadSessions bulk-loads session files and derives root traces.
func (b *BulkLoader) loadSessions(cutoff float64) BulkLoadResult {
	start := time.Now()
	dir := filepath.Join(b.storagePath, "session")
	if _, err := os.Stat(dir); err != nil {
		return BulkLoadResult{FileType: "session"}
	}

	query := fmt.Sprintf(loadSessionsSQL, dir, timeFilter(cutoff))
	if _, err := b.st.Exec(query); err != nil {
		logging.L_error("bulk: session load failed", "error", err)
		metrics.Count("indexer/bulk", "session_errors")
		return BulkLoadResult{FileType: "session", Duration: time.Since(start), Errors: 1}
	}

	var count int64
	if err := b.st.DB().QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		logging.L_debug("bulk: session count failed", "error", err)
	}

	res := result("session", count, start)
	logging.L_info("bulk: sessions loaded", "count", count, "duration", res.Duration)

	if err := b.deriver.DeriveRootTraces(); err != nil {
		logging.L_error("bulk: root trace derivation failed", "error", err)
		metrics.Count("indexer/bulk", "derive_errors")
		res.Errors++
	}
	return res
}

// loadMessages bulk-loads message files.
func (b *BulkLoader) loadMessages(cutoff float64) BulkLoadResult {
	start := time.Now()
	dir := filepath.Join(b.storagePath, "message")
	if _, err := os.Stat(dir); err != nil {
		return BulkLoadResult{FileType: "message"}
	}

	query := fmt.Sprintf(loadMessagesSQL, dir, timeFilter(cutoff))
	if _, err := b.st.Exec(query); err != nil {
		logging.L_error("bulk: message load failed", "error", err)
		metrics.Count("indexer/bulk", "message_errors")
		return BulkLoadResult{FileType: "message", Duration: time.Since(start), Errors: 1}
	}

	var count int64
	if err := b.st.DB().QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		logging.L_debug("bulk: message count failed", "error", err)
	}

	res := result("message", count, start)
	logging.L_info("bulk: messages loaded", "count", count, "duration", res.Duration)
	return res
}

// loadParts bulk-loads part files and derives delegation traces and
// delegation rows. Parts are not filtered by cutoff here; their timestamps
// live under two different JSON paths and the ledger barrier handles
// deduplication against the live path.
func (b *BulkLoader) loadParts() BulkLoadResult {
	start := time.Now()
	dir := filepath.Join(b.storagePath, "part")
	if _, err := os.Stat(dir); err != nil {
		return BulkLoadResult{FileType: "part"}
	}

	b.tuneForBulk()

	query := fmt.Sprintf(loadPartsSQL, dir)
	if _, err := b.st.Exec(query); err != nil {
		logging.L_error("bulk: part load failed", "error", err)
		metrics.Count("indexer/bulk", "part_errors")
		return BulkLoadResult{FileType: "part", Duration: time.Since(start), Errors: 1}
	}

	var count int64
	if err := b.st.DB().QueryRow(`SELECT COUNT(*) FROM parts`).Scan(&count); err != nil {
		logging.L_debug("bulk: part count failed", "error", err)
	}

	res := result("part", count, start)
	logging.L_info("bulk: parts loaded", "count", count, "duration", res.Duration)

	if err := b.deriver.DeriveDelegationTraces(); err != nil {
		logging.L_error("bulk: delegation trace derivation failed", "error", err)
		metrics.Count("indexer/bulk", "derive_errors")
		res.Errors++
	}
	if err := b.deriver.DeriveDelegations(); err != nil {
		logging.L_error("bulk: delegation derivation failed", "error", err)
		metrics.Count("indexer/bulk", "derive_errors")
		res.Errors++
	}
	return res
}

// loadStepEvents projects step-start/step-finish parts into step_events.
func (b *BulkLoader) loadStepEvents() BulkLoadResult {
	start := time.Now()
	dir := filepath.Join(b.storagePath, "part")
	if _, err := os.Stat(dir); err != nil {
		return BulkLoadResult{FileType: "step_event"}
	}

	b.tuneForBulk()

	query := fmt.Sprintf(loadStepEventsSQL, dir)
	if _, err := b.st.Exec(query); err != nil {
		logging.L_error("bulk: step event load failed", "error", err)
		metrics.Count("indexer/bulk", "step_event_errors")
		return BulkLoadResult{FileType: "step_event", Duration: time.Since(start), Errors: 1}
	}

	var count int64
	if err := b.st.DB().QueryRow(`SELECT COUNT(*) FROM step_events`).Scan(&count); err != nil {
		logging.L_debug("bulk: step event count failed", "error", err)
	}

	res := result("step_event", count, start)
	logging.L_info("bulk: step events loaded", "count", count, "duration", res.Duration)
	return res
}

// loadPatches projects patch parts into patches.
func (b *BulkLoader) loadPatches() BulkLoadResult {
	start := time.Now()
	dir := filepath.Join(b.storagePath, "part")
	if _, err := os.Stat(dir); err != nil {
		return BulkLoadResult{FileType: "patch"}
	}

	query := fmt.Sprintf(loadPatchesSQL, dir)
	if _, err := b.st.Exec(query); err != nil {
		logging.L_error("bulk: patch load failed", "error", err)
		metrics.Count("indexer/bulk", "patch_errors")
		return BulkLoadResult{FileType: "patch", Duration: time.Since(start), Errors: 1}
	}

	var count int64
	if err := b.st.DB().QueryRow(`SELECT COUNT(*) FROM patches`).Scan(&count); err != nil {
		logging.L_debug("bulk: patch count failed", "error", err)
	}

	res := result("patch", count, start)
	logging.L_info("bulk: patches loaded", "count", count, "duration", res.Duration)
	return res
}

// tuneForBulk relaxes DuckDB settings for large multi-file reads. Insertion
// order is irrelevant for analytics.
func (b *BulkLoader) tuneForBulk() {
	if _, err := b.st.Exec(fmt.Sprintf(`SET memory_limit='%s'`, b.memoryLimit)); err != nil {
		logging.L_debug("bulk: memory limit not applied", "error", err)
	}
	if _, err := b.st.Exec(`SET preserve_insertion_order=false`); err != nil {
		logging.L_debug("bulk: insertion order setting not applied", "error", err)
	}
}

// markBulkFilesProcessed records every file with mtime < cutoff in the
// ledger with status processed. Walks <storage>/<type>/<sub>/*.json; this is
// the barrier that keeps the live paths from re-processing bulk files.
func (b *BulkLoader) markBulkFilesProcessed(cutoff float64) (int, error) {
	marked := 0
	for _, fileType := range fileTypes {
		typeDir := filepath.Join(b.storagePath, fileType)
		entries, err := os.ReadDir(typeDir)
		if err != nil {
			continue
		}

		var batch []FileInfo
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			subDir := filepath.Join(typeDir, entry.Name())
			files, err := os.ReadDir(subDir)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
					continue
				}
				info, err := f.Info()
				if err != nil {
					continue
				}
				mtime := float64(info.ModTime().UnixMilli()) / 1000.0
				if mtime >= cutoff {
					continue
				}
				batch = append(batch, FileInfo{
					Path:         filepath.Join(subDir, f.Name()),
					FileType:     fileType,
					LastModified: mtime,
					Status:       StatusProcessed,
				})
			}
		}

		if len(batch) > 0 {
			n, err := b.ledger.MarkBatch(batch)
			if err != nil {
				return marked, err
			}
			marked += n
			logging.L_debug("bulk: marked files", "type", fileType, "count", n)
		}
	}
	return marked, nil
}

func result(fileType string, count int64, start time.Time) BulkLoadResult {
	elapsed := time.Since(start)
	var speed float64
	if elapsed > 0 {
		speed = float64(count) / elapsed.Seconds()
	}
	return BulkLoadResult{
		FileType:      fileType,
		RowsLoaded:    count,
		Duration:      elapsed,
		RowsPerSecond: speed,
	}
}
