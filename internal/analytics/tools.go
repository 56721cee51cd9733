package analytics

import (
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// toolStats returns per-tool invocation and failure counts. Tools are
// filtered by the parent message's created_at since parts.created_at may be
// NULL.
func (q *Queries) toolStats(start, end time.Time) []ToolStats {
	rows, err := q.st.DB().Query(`
		SELECT
			p.tool_name,
			COUNT(*),
			SUM(CASE WHEN p.tool_status = 'error' THEN 1 ELSE 0 END)
		FROM parts p
		JOIN messages m ON p.message_id = m.id
		WHERE m.created_at >= ? AND m.created_at <= ?
			AND p.tool_name IS NOT NULL
		GROUP BY p.tool_name
		ORDER BY COUNT(*) DESC
		LIMIT 15
	`, start, end)
	if err != nil {
		L_debug("analytics: tool stats query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []ToolStats
	for rows.Next() {
		var t ToolStats
		if err := rows.Scan(&t.ToolName, &t.Invocations, &t.Failures); err != nil {
			return nil
		}
		out = append(out, t)
	}
	return out
}

// GetToolPerformance returns per-tool duration stats for the last N days.
func (q *Queries) GetToolPerformance(days int) []ToolPerformance {
	start, end := q.dateRange(days)

	rows, err := q.st.DB().Query(`
		SELECT
			tool_name,
			COUNT(*),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(MAX(duration_ms), 0),
			COALESCE(MIN(duration_ms), 0),
			SUM(CASE WHEN tool_status = 'error' THEN 1 ELSE 0 END)
		FROM parts
		WHERE created_at >= ? AND created_at <= ?
			AND tool_name IS NOT NULL
			AND duration_ms IS NOT NULL
		GROUP BY tool_name
		ORDER BY AVG(duration_ms) DESC
		LIMIT 20
	`, start, end)
	if err != nil {
		L_debug("analytics: tool performance query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []ToolPerformance
	for rows.Next() {
		var t ToolPerformance
		var avg float64
		if err := rows.Scan(&t.ToolName, &t.Invocations, &avg,
			&t.MaxDurationMS, &t.MinDurationMS, &t.Failures); err != nil {
			return nil
		}
		t.AvgDurationMS = int64(avg)
		out = append(out, t)
	}
	return out
}

// skillStats returns skill load counts, filtered by the parent message's
// created_at since skills.loaded_at may be NULL.
func (q *Queries) skillStats(start, end time.Time) []SkillStats {
	rows, err := q.st.DB().Query(`
		SELECT
			s.skill_name,
			COUNT(*)
		FROM skills s
		JOIN messages m ON s.message_id = m.id
		WHERE m.created_at >= ? AND m.created_at <= ?
			AND s.skill_name IS NOT NULL
		GROUP BY s.skill_name
		ORDER BY COUNT(*) DESC
	`, start, end)
	if err != nil {
		L_debug("analytics: skill stats query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []SkillStats
	for rows.Next() {
		var s SkillStats
		if err := rows.Scan(&s.SkillName, &s.LoadCount); err != nil {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// skillsByAgent returns skill load counts per agent.
func (q *Queries) skillsByAgent(start, end time.Time) []SkillByAgent {
	rows, err := q.st.DB().Query(`
		SELECT
			m.agent,
			s.skill_name,
			COUNT(*)
		FROM skills s
		JOIN messages m ON s.message_id = m.id
		WHERE m.agent IS NOT NULL
			AND m.created_at >= ? AND m.created_at <= ?
		GROUP BY m.agent, s.skill_name
		ORDER BY COUNT(*) DESC
	`, start, end)
	if err != nil {
		L_debug("analytics: skills by agent query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []SkillByAgent
	for rows.Next() {
		var s SkillByAgent
		if err := rows.Scan(&s.Agent, &s.SkillName, &s.Count); err != nil {
			return nil
		}
		out = append(out, s)
	}
	return out
}
