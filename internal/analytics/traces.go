package analytics

import (
	"database/sql"
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

const traceColumns = `
	trace_id, session_id, COALESCE(parent_trace_id, ''), COALESCE(parent_agent, ''),
	COALESCE(subagent_type, ''), COALESCE(prompt_input, ''), COALESCE(prompt_output, ''),
	started_at, ended_at, COALESCE(duration_ms, 0),
	COALESCE(tokens_in, 0), COALESCE(tokens_out, 0),
	COALESCE(status, 'running'), COALESCE(child_session_id, '')`

// scanTrace reads one agent_traces row.
func scanTrace(rows interface{ Scan(...interface{}) error }) (AgentTrace, error) {
	var t AgentTrace
	var startedAt, endedAt sql.NullTime
	err := rows.Scan(&t.TraceID, &t.SessionID, &t.ParentTraceID, &t.ParentAgent,
		&t.SubagentType, &t.PromptInput, &t.PromptOutput,
		&startedAt, &endedAt, &t.DurationMS,
		&t.TokensIn, &t.TokensOut, &t.Status, &t.ChildSessionID)
	if err != nil {
		return t, err
	}
	if startedAt.Valid {
		ts := startedAt.Time
		t.StartedAt = &ts
	}
	if endedAt.Valid {
		ts := endedAt.Time
		t.EndedAt = &ts
	}
	return t, nil
}

// GetTracesBySession returns all traces of one session, oldest first.
func (q *Queries) GetTracesBySession(sessionID string) []AgentTrace {
	rows, err := q.st.DB().Query(`
		SELECT `+traceColumns+`
		FROM agent_traces
		WHERE session_id = ?
		ORDER BY started_at ASC
	`, sessionID)
	if err != nil {
		L_debug("analytics: traces by session query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []AgentTrace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil
		}
		out = append(out, t)
	}
	return out
}

// GetTraceDetails returns one trace by id, nil if absent.
func (q *Queries) GetTraceDetails(traceID string) *AgentTrace {
	row := q.st.DB().QueryRow(`
		SELECT `+traceColumns+`
		FROM agent_traces
		WHERE trace_id = ?
	`, traceID)
	t, err := scanTrace(row)
	if err != nil {
		return nil
	}
	return &t
}

// GetTracesByAgent returns all traces for one subagent type, newest first.
func (q *Queries) GetTracesByAgent(subagentType string) []AgentTrace {
	rows, err := q.st.DB().Query(`
		SELECT `+traceColumns+`
		FROM agent_traces
		WHERE subagent_type = ?
		ORDER BY started_at DESC
	`, subagentType)
	if err != nil {
		L_debug("analytics: traces by agent query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []AgentTrace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil
		}
		out = append(out, t)
	}
	return out
}

// GetTraceTree reconstructs the delegation hierarchy for a session by
// following child_session_id references, bounded to depth 10.
func (q *Queries) GetTraceTree(sessionID string) []*TraceTreeNode {
	rows, err := q.st.DB().Query(`
		WITH RECURSIVE trace_tree AS (
			SELECT `+traceColumns+`, 0 as depth
			FROM agent_traces
			WHERE session_id = ?

			UNION ALL

			SELECT t.trace_id, t.session_id, COALESCE(t.parent_trace_id, ''),
			       COALESCE(t.parent_agent, ''), COALESCE(t.subagent_type, ''),
			       COALESCE(t.prompt_input, ''), COALESCE(t.prompt_output, ''),
			       t.started_at, t.ended_at, COALESCE(t.duration_ms, 0),
			       COALESCE(t.tokens_in, 0), COALESCE(t.tokens_out, 0),
			       COALESCE(t.status, 'running'), COALESCE(t.child_session_id, ''),
			       tt.depth + 1
			FROM agent_traces t
			JOIN trace_tree tt ON t.session_id = tt.child_session_id
			WHERE tt.depth < 10
		)
		SELECT * FROM trace_tree
		ORDER BY started_at ASC, depth ASC
	`, sessionID)
	if err != nil {
		L_debug("analytics: trace tree query failed", "error", err)
		return nil
	}
	defer rows.Close()

	byID := make(map[string]*TraceTreeNode)
	var ordered []*TraceTreeNode
	for rows.Next() {
		var t AgentTrace
		var startedAt, endedAt sql.NullTime
		var depth int
		err := rows.Scan(&t.TraceID, &t.SessionID, &t.ParentTraceID, &t.ParentAgent,
			&t.SubagentType, &t.PromptInput, &t.PromptOutput,
			&startedAt, &endedAt, &t.DurationMS,
			&t.TokensIn, &t.TokensOut, &t.Status, &t.ChildSessionID, &depth)
		if err != nil {
			return nil
		}
		if startedAt.Valid {
			ts := startedAt.Time
			t.StartedAt = &ts
		}
		if endedAt.Valid {
			ts := endedAt.Time
			t.EndedAt = &ts
		}
		// The recursive walk can visit a trace twice when sessions share
		// children; the shallowest visit wins.
		if _, seen := byID[t.TraceID]; seen {
			continue
		}
		node := &TraceTreeNode{Trace: t, Depth: depth}
		byID[t.TraceID] = node
		ordered = append(ordered, node)
	}

	// Link parents and children by parent_trace_id.
	var roots []*TraceTreeNode
	for _, node := range ordered {
		if node.Trace.ParentTraceID != "" {
			if parent, ok := byID[node.Trace.ParentTraceID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		if node.Depth == 0 {
			roots = append(roots, node)
		}
	}
	return roots
}

// GetSessionsWithTraces lists sessions carrying traces, most recent first.
func (q *Queries) GetSessionsWithTraces(limit int) []SessionWithTraces {
	rows, err := q.st.DB().Query(`
		SELECT
			t.session_id,
			COALESCE(s.title, ''),
			COUNT(*),
			MIN(t.started_at),
			SUM(COALESCE(t.duration_ms, 0))
		FROM agent_traces t
		LEFT JOIN sessions s ON t.session_id = s.id
		GROUP BY t.session_id, s.title
		ORDER BY MIN(t.started_at) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		L_debug("analytics: sessions with traces query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []SessionWithTraces
	for rows.Next() {
		var s SessionWithTraces
		var firstTrace sql.NullTime
		if err := rows.Scan(&s.SessionID, &s.Title, &s.TraceCount,
			&firstTrace, &s.TotalDurationMS); err != nil {
			return nil
		}
		if firstTrace.Valid {
			t := firstTrace.Time
			s.FirstTraceAt = &t
		}
		out = append(out, s)
	}
	return out
}

// GetTraceStats aggregates traces over a date range.
func (q *Queries) GetTraceStats(start, end time.Time) TraceStats {
	var s TraceStats
	var avg sql.NullFloat64
	var total sql.NullInt64
	err := q.st.DB().QueryRow(`
		SELECT
			COUNT(*),
			COUNT(DISTINCT subagent_type),
			COUNT(DISTINCT session_id),
			AVG(duration_ms),
			SUM(duration_ms),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		FROM agent_traces
		WHERE started_at >= ? AND started_at <= ?
	`, start, end).Scan(&s.TotalTraces, &s.UniqueAgents, &s.SessionsWithTraces,
		&avg, &total, &s.Completed, &s.Errors)
	if err != nil {
		L_debug("analytics: trace stats query failed", "error", err)
		return TraceStats{}
	}
	s.AvgDurationMS = int64(avg.Float64)
	s.TotalDurationMS = total.Int64
	return s
}

// GetAgentTypeStats aggregates traces per subagent type over a date range.
func (q *Queries) GetAgentTypeStats(start, end time.Time) []AgentTypeStats {
	rows, err := q.st.DB().Query(`
		SELECT
			COALESCE(subagent_type, ''),
			COUNT(*),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(SUM(duration_ms), 0),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END)
		FROM agent_traces
		WHERE started_at >= ? AND started_at <= ?
		GROUP BY subagent_type
		ORDER BY COUNT(*) DESC
	`, start, end)
	if err != nil {
		L_debug("analytics: agent type stats query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []AgentTypeStats
	for rows.Next() {
		var a AgentTypeStats
		var avg float64
		if err := rows.Scan(&a.Agent, &a.Count, &avg, &a.TotalDurationMS, &a.Completed); err != nil {
			return nil
		}
		a.AvgDurationMS = int64(avg)
		out = append(out, a)
	}
	return out
}
