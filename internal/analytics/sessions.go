package analytics

import (
	"database/sql"
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// topSessions returns the highest-token sessions of the period.
func (q *Queries) topSessions(start, end time.Time, limit int) []SessionStats {
	rows, err := q.st.DB().Query(`
		SELECT
			s.id,
			COALESCE(s.title, 'Untitled'),
			COUNT(m.id),
			COALESCE(SUM(m.tokens_input), 0),
			COALESCE(SUM(m.tokens_output), 0),
			COALESCE(SUM(m.tokens_reasoning), 0),
			COALESCE(SUM(m.tokens_cache_read), 0),
			COALESCE(SUM(m.tokens_cache_write), 0),
			COALESCE(EXTRACT(EPOCH FROM (MAX(m.created_at) - MIN(m.created_at))) / 60, 0)
		FROM sessions s
		JOIN messages m ON s.id = m.session_id
		WHERE s.created_at >= ? AND s.created_at <= ?
		GROUP BY s.id, s.title
		ORDER BY SUM(m.tokens_input) + SUM(m.tokens_output) DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		L_debug("analytics: top sessions query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []SessionStats
	for rows.Next() {
		var s SessionStats
		var duration float64
		if err := rows.Scan(&s.SessionID, &s.Title, &s.MessageCount,
			&s.Tokens.Input, &s.Tokens.Output, &s.Tokens.Reasoning,
			&s.Tokens.CacheRead, &s.Tokens.CacheWrite, &duration); err != nil {
			return nil
		}
		s.DurationMinutes = int64(duration)
		out = append(out, s)
	}
	return out
}

// sessionTokenStats returns the token distribution across sessions, nil
// when the period has no messages.
func (q *Queries) sessionTokenStats(start, end time.Time) *SessionTokenStats {
	var (
		sessions              int64
		avg, max, min, median sql.NullFloat64
	)
	err := q.st.DB().QueryRow(`
		SELECT
			COUNT(*),
			AVG(total_tokens),
			MAX(total_tokens),
			MIN(CASE WHEN total_tokens > 0 THEN total_tokens END),
			PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY total_tokens)
		FROM (
			SELECT session_id, SUM(tokens_input + tokens_output) as total_tokens
			FROM messages
			WHERE created_at >= ? AND created_at <= ?
			GROUP BY session_id
		)
	`, start, end).Scan(&sessions, &avg, &max, &min, &median)
	if err != nil || sessions == 0 {
		return nil
	}

	return &SessionTokenStats{
		TotalSessions: sessions,
		AvgTokens:     int64(avg.Float64),
		MaxTokens:     int64(max.Float64),
		MinTokens:     int64(min.Float64),
		MedianTokens:  int64(median.Float64),
	}
}

// avgSessionDuration returns the mean session duration in minutes over
// sessions with more than one message.
func (q *Queries) avgSessionDuration(start, end time.Time) float64 {
	var avg sql.NullFloat64
	err := q.st.DB().QueryRow(`
		SELECT AVG(duration_min) FROM (
			SELECT
				s.id,
				EXTRACT(EPOCH FROM (MAX(m.created_at) - MIN(m.created_at))) / 60 as duration_min
			FROM sessions s
			JOIN messages m ON s.id = m.session_id
			WHERE s.created_at >= ? AND s.created_at <= ?
			GROUP BY s.id
			HAVING COUNT(m.id) > 1
		)
	`, start, end).Scan(&avg)
	if err != nil {
		L_debug("analytics: session duration query failed", "error", err)
		return 0
	}
	return avg.Float64
}

// GetSessionHierarchy walks the session forest around one session: parents
// up to the root, direct children down.
func (q *Queries) GetSessionHierarchy(sessionID string) SessionHierarchy {
	h := SessionHierarchy{Current: sessionID}

	currentID := sessionID
	for currentID != "" {
		var id, title string
		var parentID sql.NullString
		var nullTitle sql.NullString
		err := q.st.DB().QueryRow(`
			SELECT id, parent_id, title FROM sessions WHERE id = ?
		`, currentID).Scan(&id, &parentID, &nullTitle)
		if err != nil {
			break
		}
		title = nullTitle.String
		h.Parents = append([]SessionRef{{ID: id, Title: title}}, h.Parents...)
		currentID = parentID.String
	}

	rows, err := q.st.DB().Query(`
		SELECT id, COALESCE(title, '') FROM sessions
		WHERE parent_id = ?
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return h
	}
	defer rows.Close()
	for rows.Next() {
		var ref SessionRef
		if err := rows.Scan(&ref.ID, &ref.Title); err != nil {
			return h
		}
		h.Children = append(h.Children, ref)
	}
	return h
}

// GetSessionTree returns the session subtree rooted at sessionID, following
// parent_id edges with a recursive CTE. Depth is bounded to keep malformed
// self-references from looping.
func (q *Queries) GetSessionTree(sessionID string) *SessionNode {
	rows, err := q.st.DB().Query(`
		WITH RECURSIVE tree AS (
			SELECT id, parent_id, title, created_at, 0 as depth
			FROM sessions WHERE id = ?

			UNION ALL

			SELECT s.id, s.parent_id, s.title, s.created_at, t.depth + 1
			FROM sessions s
			JOIN tree t ON s.parent_id = t.id
			WHERE t.depth < 10
		)
		SELECT id, parent_id, COALESCE(title, ''), created_at FROM tree
		ORDER BY depth, created_at
	`, sessionID)
	if err != nil {
		L_debug("analytics: session tree query failed", "error", err)
		return nil
	}
	defer rows.Close()

	nodes := make(map[string]*SessionNode)
	parents := make(map[string]string)
	var root *SessionNode

	for rows.Next() {
		var id, title string
		var parentID sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&id, &parentID, &title, &createdAt); err != nil {
			return nil
		}
		node := &SessionNode{ID: id, Title: title}
		if createdAt.Valid {
			t := createdAt.Time
			node.CreatedAt = &t
		}
		nodes[id] = node
		parents[id] = parentID.String
		if id == sessionID {
			root = node
		}
	}

	for id, node := range nodes {
		if id == sessionID {
			continue
		}
		if parent, ok := nodes[parents[id]]; ok {
			parent.Children = append(parent.Children, node)
		}
	}
	return root
}
