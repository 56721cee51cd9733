package indexer

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roelfdiedericks/openlens/internal/store"
)

// File processing statuses.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// FileInfo is one row of the processing ledger.
type FileInfo struct {
	Path         string
	FileType     string
	LastModified float64 // epoch seconds
	Checksum     string
	Status       string
}

// LedgerStats summarizes the ledger contents.
type LedgerStats struct {
	TotalFiles int
	ByStatus   map[string]int
	ByType     map[string]int
}

// Ledger records which files have been ingested, deduplicating work between
// the bulk loader and the live paths. A file present with any status is not
// retried until its mtime moves past the stored last_modified.
//
// Mutating calls serialize on a mutex on top of the store's own write lock,
// so check-then-mark sequences from concurrent workers don't interleave.
type Ledger struct {
	st *store.Store
	mu sync.Mutex
}

// NewLedger creates a ledger over the store's file_processing_state table.
func NewLedger(st *store.Store) *Ledger {
	return &Ledger{st: st}
}

// IsProcessed reports whether path has a ledger row with any status.
func (l *Ledger) IsProcessed(path string) (bool, error) {
	var one int
	err := l.st.DB().QueryRow(
		`SELECT 1 FROM file_processing_state WHERE file_path = ?`, path,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ledger lookup failed: %w", err)
	}
	return true, nil
}

// Info returns the ledger row for path, or nil if absent.
func (l *Ledger) Info(path string) (*FileInfo, error) {
	var info FileInfo
	err := l.st.DB().QueryRow(`
		SELECT file_path, file_type, COALESCE(last_modified, 0),
		       COALESCE(checksum, ''), status
		FROM file_processing_state WHERE file_path = ?
	`, path).Scan(&info.Path, &info.FileType, &info.LastModified,
		&info.Checksum, &info.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger lookup failed: %w", err)
	}
	return &info, nil
}

// Mark upserts a ledger row for path, overriding any previous status.
func (l *Ledger) Mark(path, fileType, status string, checksum string, lastModified float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cs interface{}
	if checksum != "" {
		cs = checksum
	}
	// The old row is deleted first: INSERT OR REPLACE alone leaves the
	// indexed status column of an existing row unchanged.
	err := l.st.WriteTx(func(db *sql.DB) error {
		if _, err := db.Exec(`DELETE FROM file_processing_state WHERE file_path = ?`, path); err != nil {
			return err
		}
		_, err := db.Exec(`
		INSERT OR REPLACE INTO file_processing_state
		(file_path, file_type, last_modified, processed_at, checksum, status)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?, ?)
	`, path, fileType, lastModified, cs, status)
		return err
	})
	if err != nil {
		return fmt.Errorf("ledger mark failed: %w", err)
	}
	return nil
}

// MarkTx upserts a ledger row on the caller's connection. Used inside a
// store write section so the mark lands in the same logical transaction as
// the data writes; the caller already holds the store write lock.
func (l *Ledger) MarkTx(db *sql.DB, path, fileType, status string, checksum string, lastModified float64) error {
	var cs interface{}
	if checksum != "" {
		cs = checksum
	}
	if _, err := db.Exec(`DELETE FROM file_processing_state WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("ledger mark failed: %w", err)
	}
	_, err := db.Exec(`
		INSERT OR REPLACE INTO file_processing_state
		(file_path, file_type, last_modified, processed_at, checksum, status)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?, ?)
	`, path, fileType, lastModified, cs, status)
	if err != nil {
		return fmt.Errorf("ledger mark failed: %w", err)
	}
	return nil
}

// MarkBatch upserts many rows in one statement. Much faster than Mark in a
// loop; used by the bulk loader's barrier.
func (l *Ledger) MarkBatch(files []FileInfo) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(`INSERT OR REPLACE INTO file_processing_state
		(file_path, file_type, last_modified, processed_at, checksum, status) VALUES `)
	args := make([]interface{}, 0, len(files)*5)
	for i, f := range files {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, CURRENT_TIMESTAMP, ?, ?)")
		var cs interface{}
		if f.Checksum != "" {
			cs = f.Checksum
		}
		args = append(args, f.Path, f.FileType, f.LastModified, cs, f.Status)
	}

	if _, err := l.st.Exec(sb.String(), args...); err != nil {
		return 0, fmt.Errorf("ledger batch mark failed: %w", err)
	}
	return len(files), nil
}

// Stats returns counts by status and file type.
func (l *Ledger) Stats() (*LedgerStats, error) {
	stats := &LedgerStats{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}

	if err := l.st.DB().QueryRow(
		`SELECT COUNT(*) FROM file_processing_state`,
	).Scan(&stats.TotalFiles); err != nil {
		return nil, fmt.Errorf("ledger stats failed: %w", err)
	}

	rows, err := l.st.DB().Query(
		`SELECT status, COUNT(*) FROM file_processing_state GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := l.st.DB().Query(
		`SELECT file_type, COUNT(*) FROM file_processing_state GROUP BY file_type`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats failed: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var fileType string
		var n int
		if err := typeRows.Scan(&fileType, &n); err != nil {
			return nil, err
		}
		stats.ByType[fileType] = n
	}
	return stats, typeRows.Err()
}

// Clear wipes the ledger. Test and reset helper.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.st.Exec(`DELETE FROM file_processing_state`); err != nil {
		return fmt.Errorf("ledger clear failed: %w", err)
	}
	return nil
}
