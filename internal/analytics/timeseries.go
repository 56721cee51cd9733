package analytics

import (
	"sort"
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// hourlyUsage returns message and token counts by hour of day.
func (q *Queries) hourlyUsage(start, end time.Time) []HourlyStats {
	rows, err := q.st.DB().Query(`
		SELECT
			EXTRACT(HOUR FROM created_at),
			COUNT(*),
			COALESCE(SUM(tokens_input + tokens_output), 0)
		FROM messages
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY EXTRACT(HOUR FROM created_at)
		ORDER BY 1
	`, start, end)
	if err != nil {
		L_debug("analytics: hourly usage query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []HourlyStats
	for rows.Next() {
		var h HourlyStats
		if err := rows.Scan(&h.Hour, &h.MessageCount, &h.Tokens); err != nil {
			return nil
		}
		out = append(out, h)
	}
	return out
}

// hourlyDelegations returns delegation counts by hour of day.
func (q *Queries) hourlyDelegations(start, end time.Time) []HourlyDelegations {
	rows, err := q.st.DB().Query(`
		SELECT EXTRACT(HOUR FROM created_at) as hour, COUNT(*)
		FROM delegations
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY hour
		ORDER BY hour
	`, start, end)
	if err != nil {
		L_debug("analytics: hourly delegations query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []HourlyDelegations
	for rows.Next() {
		var h HourlyDelegations
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil
		}
		out = append(out, h)
	}
	return out
}

// dailyStats builds the per-day time series by combining sessions, messages
// and delegations per day.
func (q *Queries) dailyStats(start, end time.Time) []DailyStats {
	sessions := q.countByDay(`
		SELECT DATE_TRUNC('day', created_at) as day, COUNT(*)
		FROM sessions
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY day`, start, end)

	messages := make(map[time.Time]int64)
	tokens := make(map[time.Time]int64)
	rows, err := q.st.DB().Query(`
		SELECT
			DATE_TRUNC('day', created_at) as day,
			COUNT(*),
			COALESCE(SUM(tokens_input + tokens_output), 0)
		FROM messages
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY day
	`, start, end)
	if err != nil {
		L_debug("analytics: daily stats query failed", "error", err)
		return nil
	}
	for rows.Next() {
		var day time.Time
		var msgCount, tok int64
		if err := rows.Scan(&day, &msgCount, &tok); err != nil {
			rows.Close()
			return nil
		}
		messages[day] = msgCount
		tokens[day] = tok
	}
	rows.Close()

	delegations := q.countByDay(`
		SELECT DATE_TRUNC('day', created_at) as day, COUNT(*)
		FROM delegations
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY day`, start, end)

	days := make(map[time.Time]bool)
	for d := range sessions {
		days[d] = true
	}
	for d := range messages {
		days[d] = true
	}
	for d := range delegations {
		days[d] = true
	}

	sorted := make([]time.Time, 0, len(days))
	for d := range days {
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	out := make([]DailyStats, 0, len(sorted))
	for _, day := range sorted {
		out = append(out, DailyStats{
			Date:        day,
			Sessions:    sessions[day],
			Messages:    messages[day],
			Tokens:      tokens[day],
			Delegations: delegations[day],
		})
	}
	return out
}

// countByDay runs a (day, count) query into a map.
func (q *Queries) countByDay(query string, start, end time.Time) map[time.Time]int64 {
	out := make(map[time.Time]int64)
	rows, err := q.st.DB().Query(query, start, end)
	if err != nil {
		L_debug("analytics: day count query failed", "error", err)
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var day time.Time
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return out
		}
		out[day] = n
	}
	return out
}
