package indexer

import (
	"database/sql"
	"fmt"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/store"
)

// Deriver builds the derived tables (agent_traces, delegations, skills) from
// the raw tables. Batch statements run after bulk load; the single-row
// variants run from the incremental loader keyed by the changed row.
type Deriver struct {
	st *store.Store
}

// NewDeriver creates a deriver over the store.
func NewDeriver(st *store.Store) *Deriver {
	return &Deriver{st: st}
}

// createRootTracesSQL creates a root_<session> trace for every session
// without a parent. INSERT OR IGNORE keeps re-runs idempotent.
const createRootTracesSQL = `
INSERT OR IGNORE INTO agent_traces (
    trace_id, session_id, parent_trace_id, parent_agent, subagent_type,
    prompt_input, prompt_output, started_at, ended_at, duration_ms,
    tokens_in, tokens_out, status, child_session_id
)
SELECT
    'root_' || id as trace_id,
    id as session_id,
    NULL as parent_trace_id,
    NULL as parent_agent,
    'user' as subagent_type,
    title as prompt_input,
    NULL as prompt_output,
    created_at as started_at,
    updated_at as ended_at,
    NULL as duration_ms,
    0 as tokens_in,
    0 as tokens_out,
    'completed' as status,
    id as child_session_id
FROM sessions
WHERE parent_id IS NULL
`

// createDelegationTracesSQL creates a del_<part> trace for every task-tool
// part that has a status and a start time.
const createDelegationTracesSQL = `
INSERT OR IGNORE INTO agent_traces (
    trace_id, session_id, parent_trace_id, parent_agent, subagent_type,
    prompt_input, prompt_output, started_at, ended_at, duration_ms,
    tokens_in, tokens_out, status, child_session_id
)
SELECT
    'del_' || p.id as trace_id,
    p.session_id,
    'root_' || p.session_id as parent_trace_id,
    m.agent as parent_agent,
    COALESCE(
        json_extract_string(p.arguments, '$.subagent_type'),
        'task'
    ) as subagent_type,
    COALESCE(
        json_extract_string(p.arguments, '$.prompt'),
        json_extract_string(p.arguments, '$.description'),
        ''
    ) as prompt_input,
    NULL as prompt_output,
    p.created_at as started_at,
    p.ended_at as ended_at,
    p.duration_ms,
    0 as tokens_in,
    0 as tokens_out,
    CASE p.tool_status
        WHEN 'completed' THEN 'completed'
        WHEN 'error' THEN 'error'
        ELSE 'running'
    END as status,
    json_extract_string(p.arguments, '$.session_id') as child_session_id
FROM parts p
LEFT JOIN messages m ON p.message_id = m.id
WHERE p.tool_name = 'task'
  AND p.tool_status IS NOT NULL
  AND p.created_at IS NOT NULL
`

// createDelegationsSQL records one delegation row per finished task part.
const createDelegationsSQL = `
INSERT OR REPLACE INTO delegations (
    id, message_id, session_id, parent_agent, child_agent,
    child_session_id, created_at
)
SELECT
    p.id,
    p.message_id,
    p.session_id,
    m.agent as parent_agent,
    COALESCE(
        json_extract_string(p.arguments, '$.subagent_type'),
        'task'
    ) as child_agent,
    json_extract_string(p.arguments, '$.session_id') as child_session_id,
    p.created_at
FROM parts p
LEFT JOIN messages m ON p.message_id = m.id
WHERE p.tool_name = 'task'
  AND p.tool_status IN ('completed', 'error')
  AND p.created_at IS NOT NULL
`

// createSkillsSQL rebuilds skill-load rows from skill-tool parts. The skills
// table has no natural key, so the batch variant clears it first.
const createSkillsSQL = `
INSERT INTO skills (message_id, session_id, skill_name, loaded_at)
SELECT
    p.message_id,
    p.session_id,
    json_extract_string(p.arguments, '$.name') as skill_name,
    p.created_at
FROM parts p
WHERE p.tool_name = 'skill'
  AND json_extract_string(p.arguments, '$.name') IS NOT NULL
`

// DeriveAll runs the batch projections. Invoked after the bulk phases; each
// statement is idempotent or rebuilds its table from scratch.
func (d *Deriver) DeriveAll() error {
	if err := d.DeriveRootTraces(); err != nil {
		return err
	}
	if err := d.DeriveDelegationTraces(); err != nil {
		return err
	}
	if err := d.DeriveDelegations(); err != nil {
		return err
	}
	return d.DeriveSkills()
}

// DeriveRootTraces creates root traces for sessions without a parent.
func (d *Deriver) DeriveRootTraces() error {
	if _, err := d.st.Exec(createRootTracesSQL); err != nil {
		return fmt.Errorf("root trace derivation failed: %w", err)
	}
	var count int
	if err := d.st.DB().QueryRow(
		`SELECT COUNT(*) FROM agent_traces WHERE trace_id LIKE 'root_%'`,
	).Scan(&count); err == nil && count > 0 {
		logging.L_debug("derive: root traces", "count", count)
	}
	return nil
}

// DeriveDelegationTraces creates delegation traces from task parts.
func (d *Deriver) DeriveDelegationTraces() error {
	if _, err := d.st.Exec(createDelegationTracesSQL); err != nil {
		return fmt.Errorf("delegation trace derivation failed: %w", err)
	}
	var count int
	if err := d.st.DB().QueryRow(
		`SELECT COUNT(*) FROM agent_traces WHERE trace_id LIKE 'del_%'`,
	).Scan(&count); err == nil && count > 0 {
		logging.L_debug("derive: delegation traces", "count", count)
	}
	return nil
}

// DeriveDelegations records delegation rows for finished task parts.
func (d *Deriver) DeriveDelegations() error {
	if _, err := d.st.Exec(createDelegationsSQL); err != nil {
		return fmt.Errorf("delegation derivation failed: %w", err)
	}
	return nil
}

// DeriveSkills rebuilds the skills table from skill-tool parts.
func (d *Deriver) DeriveSkills() error {
	return d.st.WriteTx(func(db *sql.DB) error {
		if _, err := db.Exec(`DELETE FROM skills`); err != nil {
			return fmt.Errorf("skills clear failed: %w", err)
		}
		if _, err := db.Exec(createSkillsSQL); err != nil {
			return fmt.Errorf("skills derivation failed: %w", err)
		}
		return nil
	})
}

// DeriveSessionRoot ensures a root trace exists for one session. Incremental
// variant used when a session file arrives on the live path.
func (d *Deriver) DeriveSessionRoot(db *sql.DB, sessionID string) error {
	_, err := db.Exec(createRootTracesSQL+` AND id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("root trace derivation for %s failed: %w", sessionID, err)
	}
	return nil
}

// DerivePart upserts the delegation trace and delegation row for one task
// part. tokensIn carries an estimated input token count for the delegation
// prompt; 0 leaves the column alone. Runs on the caller's connection so it
// shares the incremental loader's write section.
func (d *Deriver) DerivePart(db *sql.DB, partID string, tokensIn int64) error {
	// The bulk statements are keyed off the full tables; restricting by part
	// id gives the single-row variant. OR IGNORE means a re-delivered part
	// converges instead of duplicating.
	if _, err := db.Exec(createDelegationTracesSQL+` AND p.id = ?`, partID); err != nil {
		return fmt.Errorf("delegation trace for part %s failed: %w", partID, err)
	}

	// A part that transitions running -> completed already has an OR IGNOREd
	// trace; refresh its terminal fields in place.
	if _, err := db.Exec(`
		UPDATE agent_traces SET
			status = p.new_status, ended_at = p.ended_at, duration_ms = p.duration_ms
		FROM (
			SELECT 'del_' || id as trace_id, ended_at, duration_ms,
			       CASE tool_status
			           WHEN 'completed' THEN 'completed'
			           WHEN 'error' THEN 'error'
			           ELSE 'running'
			       END as new_status
			FROM parts WHERE id = ?
		) p
		WHERE agent_traces.trace_id = p.trace_id
	`, partID); err != nil {
		return fmt.Errorf("delegation trace refresh for part %s failed: %w", partID, err)
	}

	if tokensIn > 0 {
		if _, err := db.Exec(`
			UPDATE agent_traces SET tokens_in = ?
			WHERE trace_id = 'del_' || ? AND tokens_in = 0
		`, tokensIn, partID); err != nil {
			return fmt.Errorf("delegation trace token estimate for part %s failed: %w", partID, err)
		}
	}

	if _, err := db.Exec(createDelegationsSQL+` AND p.id = ?`, partID); err != nil {
		return fmt.Errorf("delegation row for part %s failed: %w", partID, err)
	}

	return nil
}

// DerivePartSkill replaces the skill rows belonging to one part's message.
func (d *Deriver) DerivePartSkill(db *sql.DB, messageID string) error {
	if _, err := db.Exec(`
		DELETE FROM skills WHERE message_id = ?
	`, messageID); err != nil {
		return fmt.Errorf("skill clear for message %s failed: %w", messageID, err)
	}
	if _, err := db.Exec(createSkillsSQL+` AND p.message_id = ?`, messageID); err != nil {
		return fmt.Errorf("skill derivation for message %s failed: %w", messageID, err)
	}
	return nil
}

// MaxChainDepth walks delegation chains with a recursive CTE. The depth cap
// bounds runaway cycles; the walk always terminates.
func (d *Deriver) MaxChainDepth() (int, error) {
	var depth sql.NullInt64
	err := d.st.DB().QueryRow(`
		WITH RECURSIVE chain AS (
			SELECT child_session_id, 1 as depth
			FROM delegations
			WHERE parent_agent IS NOT NULL

			UNION ALL

			SELECT d.child_session_id, c.depth + 1
			FROM chain c
			JOIN delegations d ON c.child_session_id = d.session_id
			WHERE c.depth < 100
		)
		SELECT MAX(depth) FROM chain
	`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("chain depth query failed: %w", err)
	}
	if !depth.Valid {
		return 0, nil
	}
	return int(depth.Int64), nil
}
