package analytics

import (
	"math"
	"sort"
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// agentStats returns per-agent message and token usage.
func (q *Queries) agentStats(start, end time.Time) []AgentStats {
	rows, err := q.st.DB().Query(`
		SELECT
			agent,
			COUNT(*),
			COALESCE(SUM(tokens_input), 0),
			COALESCE(SUM(tokens_output), 0),
			COALESCE(SUM(tokens_reasoning), 0),
			COALESCE(SUM(tokens_cache_read), 0),
			COALESCE(SUM(tokens_cache_write), 0)
		FROM messages
		WHERE created_at >= ? AND created_at <= ?
			AND agent IS NOT NULL
		GROUP BY agent
		ORDER BY SUM(tokens_input) + SUM(tokens_output) DESC
	`, start, end)
	if err != nil {
		L_debug("analytics: agent stats query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []AgentStats
	for rows.Next() {
		var a AgentStats
		if err := rows.Scan(&a.Agent, &a.MessageCount,
			&a.Tokens.Input, &a.Tokens.Output, &a.Tokens.Reasoning,
			&a.Tokens.CacheRead, &a.Tokens.CacheWrite); err != nil {
			return nil
		}
		out = append(out, a)
	}
	return out
}

// agentRoles classifies agents as orchestrator, hub or worker based on
// delegations sent vs received.
func (q *Queries) agentRoles(start, end time.Time) []AgentRole {
	sent := q.countByAgent(`
		SELECT parent_agent, COUNT(*) FROM delegations
		WHERE created_at >= ? AND created_at <= ? AND parent_agent IS NOT NULL
		GROUP BY parent_agent`, start, end)
	received := q.countByAgent(`
		SELECT child_agent, COUNT(*) FROM delegations
		WHERE created_at >= ? AND created_at <= ? AND child_agent IS NOT NULL
		GROUP BY child_agent`, start, end)
	tokens := q.countByAgent(`
		SELECT agent, SUM(tokens_input + tokens_output) FROM messages
		WHERE created_at >= ? AND created_at <= ? AND agent IS NOT NULL
		GROUP BY agent`, start, end)

	all := make(map[string]bool)
	for agent := range sent {
		all[agent] = true
	}
	for agent := range received {
		all[agent] = true
	}

	var roles []AgentRole
	for agent := range all {
		s, r, t := sent[agent], received[agent], tokens[agent]

		role := "hub"
		switch {
		case r == 0 && s > 0:
			role = "orchestrator"
		case s == 0 && r > 0:
			role = "worker"
		}

		var fanOut float64
		switch {
		case r > 0:
			fanOut = float64(s) / float64(r)
		case s > 0:
			fanOut = math.Inf(1)
		}

		var tokensPerTask int64
		if r > 0 {
			tokensPerTask = t / r
		}

		roles = append(roles, AgentRole{
			Agent:               agent,
			Role:                role,
			DelegationsSent:     s,
			DelegationsReceived: r,
			FanOut:              fanOut,
			TokensTotal:         t,
			TokensPerTask:       tokensPerTask,
		})
	}

	sort.Slice(roles, func(i, j int) bool {
		return roles[i].DelegationsSent+roles[i].DelegationsReceived >
			roles[j].DelegationsSent+roles[j].DelegationsReceived
	})
	return roles
}

// countByAgent runs a two-column (agent, count) query into a map.
func (q *Queries) countByAgent(query string, start, end time.Time) map[string]int64 {
	out := make(map[string]int64)
	rows, err := q.st.DB().Query(query, start, end)
	if err != nil {
		L_debug("analytics: agent count query failed", "error", err)
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var agent string
		var n int64
		if err := rows.Scan(&agent, &n); err != nil {
			return out
		}
		out[agent] = n
	}
	return out
}

// agentDelegationStats returns per-agent delegation usage.
func (q *Queries) agentDelegationStats(start, end time.Time) []AgentDelegationStats {
	rows, err := q.st.DB().Query(`
		WITH session_delegations AS (
			SELECT
				parent_agent,
				session_id,
				COUNT(*) as deleg_count
			FROM delegations
			WHERE parent_agent IS NOT NULL
			  AND created_at >= ? AND created_at <= ?
			GROUP BY parent_agent, session_id
		)
		SELECT
			parent_agent,
			COUNT(*),
			SUM(deleg_count),
			ROUND(AVG(deleg_count), 1),
			MAX(deleg_count)
		FROM session_delegations
		GROUP BY parent_agent
		ORDER BY SUM(deleg_count) DESC
	`, start, end)
	if err != nil {
		L_debug("analytics: agent delegation stats query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []AgentDelegationStats
	for rows.Next() {
		var a AgentDelegationStats
		if err := rows.Scan(&a.Agent, &a.SessionsWithDelegations,
			&a.TotalDelegations, &a.AvgPerSession, &a.MaxPerSession); err != nil {
			return nil
		}
		out = append(out, a)
	}
	return out
}
