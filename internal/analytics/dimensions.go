package analytics

import (
	"fmt"
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// directoryStats returns usage per working directory.
func (q *Queries) directoryStats(start, end time.Time) []DirectoryStats {
	rows, err := q.st.DB().Query(`
		SELECT
			s.directory,
			COUNT(DISTINCT s.id),
			COALESCE(SUM(m.tokens_input + m.tokens_output), 0)
		FROM sessions s
		LEFT JOIN messages m ON s.id = m.session_id
		WHERE s.created_at >= ? AND s.created_at <= ?
		  AND s.directory IS NOT NULL
		GROUP BY s.directory
		ORDER BY 3 DESC
		LIMIT 10
	`, start, end)
	if err != nil {
		L_debug("analytics: directory stats query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []DirectoryStats
	for rows.Next() {
		var d DirectoryStats
		if err := rows.Scan(&d.Directory, &d.Sessions, &d.Tokens); err != nil {
			return nil
		}
		out = append(out, d)
	}
	return out
}

// modelStats returns usage per model with a share of total tokens.
func (q *Queries) modelStats(start, end time.Time) []ModelStats {
	var totalTokens int64
	if err := q.st.DB().QueryRow(`
		SELECT COALESCE(SUM(tokens_input + tokens_output), 0)
		FROM messages
		WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&totalTokens); err != nil {
		return nil
	}

	rows, err := q.st.DB().Query(`
		SELECT
			model_id,
			COALESCE(provider_id, 'unknown'),
			COUNT(*),
			COALESCE(SUM(tokens_input + tokens_output), 0)
		FROM messages
		WHERE created_at >= ? AND created_at <= ?
		  AND model_id IS NOT NULL
		GROUP BY model_id, provider_id
		ORDER BY 4 DESC
		LIMIT 10
	`, start, end)
	if err != nil {
		L_debug("analytics: model stats query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []ModelStats
	for rows.Next() {
		var m ModelStats
		if err := rows.Scan(&m.ModelID, &m.ProviderID, &m.Messages, &m.Tokens); err != nil {
			return nil
		}
		if totalTokens > 0 {
			m.Percentage = float64(m.Tokens) / float64(totalTokens) * 100
		}
		out = append(out, m)
	}
	return out
}

// anomalies flags unusual usage: sessions with excessive task calls and
// tools with high failure rates.
func (q *Queries) anomalies(start, end time.Time) []string {
	var anomalies []string

	// Sessions with more than 10 task calls
	rows, err := q.st.DB().Query(`
		SELECT ANY_VALUE(s.title), COUNT(*) as task_count
		FROM parts p
		JOIN messages m ON p.message_id = m.id
		JOIN sessions s ON m.session_id = s.id
		WHERE p.tool_name = 'task'
			AND p.created_at >= ? AND p.created_at <= ?
		GROUP BY s.id
		HAVING task_count > 10
		ORDER BY task_count DESC
		LIMIT 5
	`, start, end)
	if err == nil {
		for rows.Next() {
			var title *string
			var count int64
			if err := rows.Scan(&title, &count); err != nil {
				break
			}
			short := "Untitled"
			if title != nil && *title != "" {
				short = *title
				if len(short) > 30 {
					short = short[:30] + "..."
				}
			}
			anomalies = append(anomalies, fmt.Sprintf("Session '%s' has %d task calls", short, count))
		}
		rows.Close()
	} else {
		L_debug("analytics: task anomaly query failed", "error", err)
	}

	// Tools with > 20% failure rate over at least 10 invocations
	failRows, err := q.st.DB().Query(`
		SELECT
			tool_name,
			COUNT(*) as total,
			SUM(CASE WHEN tool_status = 'error' THEN 1 ELSE 0 END) as failures
		FROM parts
		WHERE created_at >= ? AND created_at <= ?
			AND tool_name IS NOT NULL
		GROUP BY tool_name
		HAVING total >= 10 AND (failures * 100.0 / total) > 20
	`, start, end)
	if err == nil {
		for failRows.Next() {
			var tool string
			var total, failures int64
			if err := failRows.Scan(&tool, &total, &failures); err != nil {
				break
			}
			rate := float64(failures) / float64(total) * 100
			anomalies = append(anomalies,
				fmt.Sprintf("Tool '%s' has %.0f%% failure rate (%d/%d)", tool, rate, failures, total))
		}
		failRows.Close()
	} else {
		L_debug("analytics: tool anomaly query failed", "error", err)
	}

	return anomalies
}

// codeStats totals change summaries over the period.
func (q *Queries) codeStats(start, end time.Time) CodeStats {
	var c CodeStats
	err := q.st.DB().QueryRow(`
		SELECT
			COALESCE(SUM(additions), 0),
			COALESCE(SUM(deletions), 0),
			COALESCE(SUM(files_changed), 0),
			COUNT(CASE WHEN additions > 0 OR deletions > 0 THEN 1 END)
		FROM sessions
		WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&c.Additions, &c.Deletions, &c.FilesChanged, &c.SessionsWithChanges)
	if err != nil {
		L_debug("analytics: code stats query failed", "error", err)
		return CodeStats{}
	}
	return c
}

// costStats totals message costs over the period.
func (q *Queries) costStats(start, end time.Time) CostStats {
	var c CostStats
	err := q.st.DB().QueryRow(`
		SELECT
			COALESCE(SUM(cost), 0),
			COALESCE(AVG(cost), 0),
			COUNT(CASE WHEN cost > 0 THEN 1 END)
		FROM messages
		WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&c.TotalCost, &c.AvgCostPerMessage, &c.MessagesWithCost)
	if err != nil {
		L_debug("analytics: cost stats query failed", "error", err)
		return CostStats{}
	}
	return c
}
