package analytics

import (
	"database/sql"
	"time"
)

// SyncStatusRow is the persisted sync state as seen by an out-of-process
// consumer (the status CLI, a dashboard polling the database). The live
// queue size is only known to the running coordinator and is not part of
// this row.
type SyncStatusRow struct {
	Phase       string     `json:"phase"`
	T0          float64    `json:"t0"`
	Progress    float64    `json:"progress"`
	FilesTotal  int        `json:"files_total"`
	FilesDone   int        `json:"files_done"`
	LastIndexed *time.Time `json:"last_indexed"`
	UpdatedAt   *time.Time `json:"updated_at"`
	IsReady     bool       `json:"is_ready"`
}

// GetSyncStatus reads the persisted sync state row.
func (q *Queries) GetSyncStatus() (*SyncStatusRow, error) {
	var (
		row         SyncStatusRow
		t0          sql.NullFloat64
		lastIndexed sql.NullTime
		updatedAt   sql.NullTime
	)
	err := q.st.DB().QueryRow(`
		SELECT phase, t0, files_total, files_done, last_indexed, updated_at
		FROM sync_state WHERE id = 1
	`).Scan(&row.Phase, &t0, &row.FilesTotal, &row.FilesDone, &lastIndexed, &updatedAt)
	if err != nil {
		return nil, err
	}

	row.T0 = t0.Float64
	if lastIndexed.Valid {
		t := lastIndexed.Time
		row.LastIndexed = &t
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		row.UpdatedAt = &t
	}
	if row.FilesTotal > 0 {
		row.Progress = float64(row.FilesDone) / float64(row.FilesTotal) * 100
	}
	row.IsReady = row.Phase == "realtime"
	return &row, nil
}
