package analytics

import (
	"database/sql"
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// GetSessionSummary returns the complete KPI set for one session, nil when
// the session does not exist.
func (q *Queries) GetSessionSummary(sessionID string) *SessionSummary {
	s := &SessionSummary{SessionID: sessionID}

	var title, directory sql.NullString
	var createdAt sql.NullTime
	err := q.st.DB().QueryRow(`
		SELECT title, directory, created_at FROM sessions WHERE id = ?
	`, sessionID).Scan(&title, &directory, &createdAt)
	if err != nil {
		return nil
	}
	s.Title = title.String
	s.Directory = directory.String
	if createdAt.Valid {
		t := createdAt.Time
		s.CreatedAt = &t
	}

	// Tokens and message count; degraded to zero on failure.
	if err := q.st.DB().QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(tokens_input), 0),
			COALESCE(SUM(tokens_output), 0),
			COALESCE(SUM(tokens_reasoning), 0),
			COALESCE(SUM(tokens_cache_read), 0),
			COALESCE(SUM(tokens_cache_write), 0)
		FROM messages WHERE session_id = ?
	`, sessionID).Scan(&s.Messages, &s.Tokens.Input, &s.Tokens.Output,
		&s.Tokens.Reasoning, &s.Tokens.CacheRead, &s.Tokens.CacheWrite); err != nil {
		L_debug("analytics: session token query failed", "error", err)
	}

	if err := q.st.DB().QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN tool_status = 'error' THEN 1 ELSE 0 END)
		FROM parts
		WHERE session_id = ? AND tool_name IS NOT NULL
	`, sessionID).Scan(&s.ToolCalls, &s.ToolErrors); err != nil {
		L_debug("analytics: session tool query failed", "error", err)
	}

	if err := q.st.DB().QueryRow(`
		SELECT COUNT(*) FROM delegations WHERE session_id = ?
	`, sessionID).Scan(&s.Delegations); err != nil {
		L_debug("analytics: session delegation query failed", "error", err)
	}

	var duration sql.NullFloat64
	if err := q.st.DB().QueryRow(`
		SELECT EXTRACT(EPOCH FROM (MAX(created_at) - MIN(created_at))) * 1000
		FROM messages WHERE session_id = ?
	`, sessionID).Scan(&duration); err == nil && duration.Valid {
		s.DurationMS = int64(duration.Float64)
	}

	s.CostUSD = float64(s.Tokens.Input)/1000*q.cost.Per1KInput +
		float64(s.Tokens.Output)/1000*q.cost.Per1KOutput +
		float64(s.Tokens.CacheRead)/1000*q.cost.Per1KCache

	return s
}

// GetSessionTimeline returns the session's parts as an ordered event list:
// tool calls, step markers and patches with their timings.
func (q *Queries) GetSessionTimeline(sessionID string) []TimelineEvent {
	rows, err := q.st.DB().Query(`
		SELECT
			id,
			COALESCE(part_type, ''),
			COALESCE(tool_name, ''),
			COALESCE(tool_status, ''),
			created_at,
			COALESCE(duration_ms, 0)
		FROM parts
		WHERE session_id = ? AND created_at IS NOT NULL
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		L_debug("analytics: session timeline query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []TimelineEvent
	for rows.Next() {
		var e TimelineEvent
		var at sql.NullTime
		if err := rows.Scan(&e.PartID, &e.Kind, &e.Tool, &e.Status, &at, &e.DurationMS); err != nil {
			return nil
		}
		if at.Valid {
			t := at.Time
			e.At = &t
		}
		out = append(out, e)
	}
	return out
}

// GetGlobalStats returns the all-time aggregate, optionally bounded to
// [start, end] when non-nil.
func (q *Queries) GetGlobalStats(start, end *time.Time) GlobalStats {
	var g GlobalStats

	where := ""
	var args []interface{}
	if start != nil && end != nil {
		where = " WHERE created_at >= ? AND created_at <= ?"
		args = []interface{}{*start, *end}
	}

	if err := q.st.DB().QueryRow(
		`SELECT COUNT(*) FROM sessions`+where, args...).Scan(&g.Sessions); err != nil {
		L_debug("analytics: global session count failed", "error", err)
	}
	if err := q.st.DB().QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(tokens_input), 0),
			COALESCE(SUM(tokens_output), 0),
			COALESCE(SUM(tokens_reasoning), 0),
			COALESCE(SUM(tokens_cache_read), 0),
			COALESCE(SUM(tokens_cache_write), 0),
			COALESCE(SUM(cost), 0)
		FROM messages`+where, args...).Scan(&g.Messages,
		&g.Tokens.Input, &g.Tokens.Output, &g.Tokens.Reasoning,
		&g.Tokens.CacheRead, &g.Tokens.CacheWrite, &g.TotalCost); err != nil {
		L_debug("analytics: global message stats failed", "error", err)
	}
	if err := q.st.DB().QueryRow(
		`SELECT COUNT(*) FROM parts`+where, args...).Scan(&g.Parts); err != nil {
		L_debug("analytics: global part count failed", "error", err)
	}
	if err := q.st.DB().QueryRow(
		`SELECT COUNT(*) FROM delegations`+where, args...).Scan(&g.Delegations); err != nil {
		L_debug("analytics: global delegation count failed", "error", err)
	}
	if err := q.st.DB().QueryRow(
		`SELECT COUNT(*) FROM agent_traces`).Scan(&g.Traces); err != nil {
		L_debug("analytics: global trace count failed", "error", err)
	}

	// Two distinct notions of freshness: the newest instant the source data
	// claims for itself, and the last time this pipeline actually ingested.
	if t, err := q.st.LastSourceUpdate(); err == nil && !t.IsZero() {
		g.LastSourceUpdate = &t
	}
	if t, err := q.st.LastIngest(); err == nil && !t.IsZero() {
		g.LastIngest = &t
	}

	return g
}
