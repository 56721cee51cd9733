// Package indexer implements the hybrid bulk-plus-incremental ingestion
// engine: sync state, file-processing ledger, bulk loader, watcher,
// incremental loader, reconciler and the coordinator that drives them.
package indexer

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/store"
)

// Phase is the current phase of the sync process.
type Phase string

const (
	PhaseInit            Phase = "init"
	PhaseBulkSessions    Phase = "bulk_sessions"
	PhaseBulkMessages    Phase = "bulk_messages"
	PhaseBulkParts       Phase = "bulk_parts"
	PhaseProcessingQueue Phase = "processing_queue"
	PhaseRealtime        Phase = "realtime"
)

// phaseOrder gives the monotone ordering of phases for consumers.
var phaseOrder = map[Phase]int{
	PhaseInit:            0,
	PhaseBulkSessions:    1,
	PhaseBulkMessages:    2,
	PhaseBulkParts:       3,
	PhaseProcessingQueue: 4,
	PhaseRealtime:        5,
}

// Ordinal returns the position of p in the phase ordering, -1 for unknown.
func (p Phase) Ordinal() int {
	if n, ok := phaseOrder[p]; ok {
		return n
	}
	return -1
}

// SyncStatus is the snapshot handed to the query surface and dashboard.
type SyncStatus struct {
	Phase       Phase      `json:"phase"`
	T0          float64    `json:"t0"`
	Progress    float64    `json:"progress"` // 0-100
	FilesTotal  int        `json:"files_total"`
	FilesDone   int        `json:"files_done"`
	QueueSize   int        `json:"queue_size"`
	ETASeconds  float64    `json:"eta_seconds"`
	LastIndexed *time.Time `json:"last_indexed"`
	IsReady     bool       `json:"is_ready"`
}

// SyncState tracks the indexing phase and progress, persisted to the store
// for crash recovery. The cutoff t0 is frozen at StartBulk and survives
// restarts so bulk and live never overlap.
//
// Progress updates are in-memory only; persistence happens at Checkpoint,
// which callers invoke on every phase transition.
type SyncState struct {
	st *store.Store

	mu          sync.Mutex
	phase       Phase
	t0          float64
	filesTotal  int
	filesDone   int
	queueSize   int
	lastIndexed time.Time
	startTime   float64
}

// NewSyncState loads (or initializes) the sync state singleton.
func NewSyncState(st *store.Store) (*SyncState, error) {
	s := &SyncState{st: st, phase: PhaseInit}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the persisted row for crash recovery.
func (s *SyncState) load() error {
	var (
		phase       string
		t0          sql.NullFloat64
		filesTotal  sql.NullInt64
		filesDone   sql.NullInt64
		lastIndexed sql.NullTime
	)
	err := s.st.DB().QueryRow(`
		SELECT phase, t0, files_total, files_done, last_indexed
		FROM sync_state WHERE id = 1
	`).Scan(&phase, &t0, &filesTotal, &filesDone, &lastIndexed)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}

	if Phase(phase).Ordinal() >= 0 {
		s.phase = Phase(phase)
	}
	s.t0 = t0.Float64
	s.filesTotal = int(filesTotal.Int64)
	s.filesDone = int(filesDone.Int64)
	if lastIndexed.Valid {
		s.lastIndexed = lastIndexed.Time
	}
	if s.phase != PhaseInit {
		logging.L_info("syncstate: resumed", "phase", s.phase, "t0", s.t0,
			"done", s.filesDone, "total", s.filesTotal)
	}
	return nil
}

// save persists the current state. Caller holds s.mu.
func (s *SyncState) save() error {
	var lastIndexed interface{}
	if !s.lastIndexed.IsZero() {
		lastIndexed = s.lastIndexed
	}
	_, err := s.st.Exec(`
		UPDATE sync_state SET
			phase = ?, t0 = ?, files_total = ?, files_done = ?,
			last_indexed = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, string(s.phase), s.t0, s.filesTotal, s.filesDone, lastIndexed)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// StartBulk enters BULK_SESSIONS with the frozen cutoff t0 and total file
// count, and persists immediately.
func (s *SyncState) StartBulk(t0 float64, totalFiles int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseBulkSessions
	s.t0 = t0
	s.filesTotal = totalFiles
	s.filesDone = 0
	s.startTime = t0
	return s.save()
}

// SetPhase transitions to phase and persists.
func (s *SyncState) SetPhase(phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	return s.save()
}

// UpdateProgress updates the in-memory counters. Cheap; not persisted
// (Checkpoint does that at phase transitions).
func (s *SyncState) UpdateProgress(filesDone, queueSize int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filesDone = filesDone
	s.queueSize = queueSize
	s.lastIndexed = time.Now()
}

// SetQueueSize updates the live queue size counter.
func (s *SyncState) SetQueueSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueSize = size
}

// Checkpoint persists the current state.
func (s *SyncState) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// Reset returns to INIT and persists. The only transition that moves the
// phase backwards.
func (s *SyncState) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseInit
	s.t0 = 0
	s.filesTotal = 0
	s.filesDone = 0
	s.queueSize = 0
	s.lastIndexed = time.Time{}
	s.startTime = 0
	return s.save()
}

// Phase returns the current phase.
func (s *SyncState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// T0 returns the frozen cutoff timestamp (epoch seconds), 0 before StartBulk.
func (s *SyncState) T0() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t0
}

// IsRealtime reports whether the pipeline has reached live mode.
func (s *SyncState) IsRealtime() bool {
	return s.Phase() == PhaseRealtime
}

// Status returns a snapshot for the query surface.
func (s *SyncState) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eta float64
	if s.startTime > 0 && s.filesDone > 0 {
		elapsed := float64(time.Now().UnixMilli())/1000.0 - s.startTime
		if elapsed > 0 {
			rate := float64(s.filesDone) / elapsed
			if rate > 0 {
				eta = float64(s.filesTotal-s.filesDone) / rate
			}
		}
	}

	var progress float64
	if s.filesTotal > 0 {
		progress = float64(s.filesDone) / float64(s.filesTotal) * 100
	}

	var lastIndexed *time.Time
	if !s.lastIndexed.IsZero() {
		t := s.lastIndexed
		lastIndexed = &t
	}

	return SyncStatus{
		Phase:       s.phase,
		T0:          s.t0,
		Progress:    progress,
		FilesTotal:  s.filesTotal,
		FilesDone:   s.filesDone,
		QueueSize:   s.queueSize,
		ETASeconds:  eta,
		LastIndexed: lastIndexed,
		IsReady:     s.phase == PhaseRealtime,
	}
}
