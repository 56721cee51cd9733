package store

import (
	"database/sql"
	"fmt"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// Schema DDL for the analytics database. Everything is IF NOT EXISTS so
// creation is idempotent across restarts.
var schemaStatements = []string{
	// Raw tables: direct projections of the runtime's JSON files
	`CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR PRIMARY KEY,
    project_id VARCHAR,
    directory VARCHAR,
    title VARCHAR,
    parent_id VARCHAR,
    version VARCHAR,
    additions INTEGER DEFAULT 0,
    deletions INTEGER DEFAULT 0,
    files_changed INTEGER DEFAULT 0,
    created_at TIMESTAMP,
    updated_at TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR PRIMARY KEY,
    session_id VARCHAR,
    parent_id VARCHAR,
    role VARCHAR,
    agent VARCHAR,
    model_id VARCHAR,
    provider_id VARCHAR,
    mode VARCHAR,
    cost DOUBLE DEFAULT 0,
    finish_reason VARCHAR,
    working_dir VARCHAR,
    tokens_input BIGINT DEFAULT 0,
    tokens_output BIGINT DEFAULT 0,
    tokens_reasoning BIGINT DEFAULT 0,
    tokens_cache_read BIGINT DEFAULT 0,
    tokens_cache_write BIGINT DEFAULT 0,
    created_at TIMESTAMP,
    completed_at TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS parts (
    id VARCHAR PRIMARY KEY,
    session_id VARCHAR,
    message_id VARCHAR,
    part_type VARCHAR,
    content VARCHAR,
    tool_name VARCHAR,
    tool_status VARCHAR,
    call_id VARCHAR,
    created_at TIMESTAMP,
    ended_at TIMESTAMP,
    duration_ms BIGINT,
    arguments JSON,
    error_message VARCHAR
)`,

	// Derived tables: rebuildable projections of the raw tables
	`CREATE SEQUENCE IF NOT EXISTS skills_id_seq`,

	`CREATE TABLE IF NOT EXISTS skills (
    id INTEGER PRIMARY KEY DEFAULT nextval('skills_id_seq'),
    message_id VARCHAR,
    session_id VARCHAR,
    skill_name VARCHAR,
    loaded_at TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS delegations (
    id VARCHAR PRIMARY KEY,
    message_id VARCHAR,
    session_id VARCHAR,
    parent_agent VARCHAR,
    child_agent VARCHAR,
    child_session_id VARCHAR,
    created_at TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS agent_traces (
    trace_id VARCHAR PRIMARY KEY,
    session_id VARCHAR,
    parent_trace_id VARCHAR,
    parent_agent VARCHAR,
    subagent_type VARCHAR,
    prompt_input VARCHAR,
    prompt_output VARCHAR,
    started_at TIMESTAMP,
    ended_at TIMESTAMP,
    duration_ms BIGINT,
    tokens_in BIGINT DEFAULT 0,
    tokens_out BIGINT DEFAULT 0,
    status VARCHAR,
    child_session_id VARCHAR
)`,

	`CREATE TABLE IF NOT EXISTS step_events (
    id VARCHAR PRIMARY KEY,
    session_id VARCHAR,
    message_id VARCHAR,
    kind VARCHAR,
    created_at TIMESTAMP,
    tokens_input BIGINT,
    tokens_output BIGINT
)`,

	`CREATE TABLE IF NOT EXISTS patches (
    id VARCHAR PRIMARY KEY,
    session_id VARCHAR,
    git_hash VARCHAR,
    files JSON,
    created_at TIMESTAMP
)`,

	// Indexer state
	`CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY DEFAULT 1,
    phase VARCHAR NOT NULL DEFAULT 'init',
    t0 DOUBLE,
    files_total INTEGER DEFAULT 0,
    files_done INTEGER DEFAULT 0,
    last_indexed TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS file_processing_state (
    file_path VARCHAR PRIMARY KEY,
    file_type VARCHAR NOT NULL,
    last_modified DOUBLE,
    processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    checksum VARCHAR,
    status VARCHAR NOT NULL DEFAULT 'processed'
)`,

	// Secondary indexes
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_parts_message ON parts(message_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_delegations_session ON delegations(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_delegations_parent ON delegations(parent_agent)`,
	`CREATE INDEX IF NOT EXISTS idx_file_processing_type ON file_processing_state(file_type)`,
	`CREATE INDEX IF NOT EXISTS idx_file_processing_status ON file_processing_state(status)`,
}

// createSchema applies the DDL. Safe to run on every open.
func createSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	// Seed the sync_state singleton row
	if _, err := db.Exec(`INSERT OR IGNORE INTO sync_state (id) VALUES (1)`); err != nil {
		return fmt.Errorf("failed to seed sync_state: %w", err)
	}

	L_debug("store: schema created")
	return nil
}
