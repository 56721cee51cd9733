// Package store owns the embedded DuckDB analytics database: connection
// lifecycle, schema creation and the write serialization every other
// component relies on.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// Store wraps the single logical DuckDB connection shared by the pipeline.
// DuckDB serializes writers on one connection; the mutex keeps our own
// multi-statement write sections atomic with respect to each other.
type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One logical connection: all writers funnel through it (and through
	// writeMu at the statement level).
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	L_info("store: opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// OpenMemory opens an in-memory database. Used by tests.
func OpenMemory() (*Store, error) {
	return Open("")
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path ("" for in-memory).
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying connection for read queries. Writers must go
// through Exec/WriteTx so they serialize.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Exec runs a single write statement under the write mutex.
func (s *Store) Exec(query string, args ...interface{}) (sql.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Exec(query, args...)
}

// WriteTx runs fn while holding the write mutex, so a multi-statement
// write section (e.g. part + delegation + trace) is not interleaved with
// other writers. fn receives the shared connection.
func (s *Store) WriteTx(fn func(db *sql.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(s.db)
}

// dataTables in deletion order (children before parents, derived before raw).
var dataTables = []string{
	"step_events",
	"patches",
	"agent_traces",
	"delegations",
	"skills",
	"parts",
	"messages",
	"sessions",
}

// ClearData removes all ingested rows. Indexer state tables are left alone;
// use the ledger's Clear and the sync state's Reset for those.
func (s *Store) ClearData() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, table := range dataTables {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	L_info("store: data cleared")
	return nil
}

// TableCounts returns row counts for the data tables.
func (s *Store) TableCounts() (map[string]int64, error) {
	counts := make(map[string]int64, len(dataTables))
	for _, table := range dataTables {
		var n int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// LastSourceUpdate returns the most recent sessions.updated_at, i.e. the
// newest instant the source data claims for itself. Zero time when empty.
func (s *Store) LastSourceUpdate() (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow("SELECT MAX(updated_at) FROM sessions").Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last source update: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

// LastIngest returns the most recent processed_at recorded in the file
// processing ledger: the actual last time this pipeline wrote anything.
// Zero time when nothing has been ingested.
func (s *Store) LastIngest() (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow("SELECT MAX(processed_at) FROM file_processing_state").Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last ingest: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

// NeedsRefresh reports whether the last ingestion is older than maxAge.
// A database that has never ingested always needs a refresh.
func (s *Store) NeedsRefresh(maxAge time.Duration) bool {
	last, err := s.LastIngest()
	if err != nil || last.IsZero() {
		return true
	}
	return time.Since(last) > maxAge
}
