package analytics

import (
	"database/sql"
	"sort"
	"time"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

// delegationMetrics returns the overall delegation aggregate, nil when the
// period has no delegations.
func (q *Queries) delegationMetrics(start, end time.Time) *DelegationMetrics {
	var total int64
	if err := q.st.DB().QueryRow(`
		SELECT COUNT(*) FROM delegations WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&total); err != nil || total == 0 {
		return nil
	}

	var sessions int64
	if err := q.st.DB().QueryRow(`
		SELECT COUNT(DISTINCT session_id) FROM delegations
		WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&sessions); err != nil {
		return nil
	}

	var patterns int64
	if err := q.st.DB().QueryRow(`
		SELECT COUNT(DISTINCT parent_agent || child_agent) FROM delegations
		WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&patterns); err != nil {
		return nil
	}

	var recursive int64
	if err := q.st.DB().QueryRow(`
		SELECT COUNT(*) FROM delegations
		WHERE parent_agent = child_agent
		  AND created_at >= ? AND created_at <= ?
	`, start, end).Scan(&recursive); err != nil {
		return nil
	}

	// Chain depth follows child_session_id links; the cap bounds cycles.
	// depth+1 = number of agents in the chain.
	maxDepth := 2
	var depth sql.NullInt64
	err := q.st.DB().QueryRow(`
		WITH RECURSIVE chain AS (
			SELECT child_session_id, 1 as depth
			FROM delegations
			WHERE created_at >= ? AND created_at <= ?
			  AND parent_agent IS NOT NULL

			UNION ALL

			SELECT d.child_session_id, c.depth + 1
			FROM chain c
			JOIN delegations d ON c.child_session_id = d.session_id
			WHERE c.depth < 100
		)
		SELECT MAX(depth) FROM chain
	`, start, end).Scan(&depth)
	if err == nil && depth.Valid {
		maxDepth = int(depth.Int64) + 1
	}

	m := &DelegationMetrics{
		TotalDelegations:        total,
		SessionsWithDelegations: sessions,
		UniquePatterns:          patterns,
		RecursiveDelegations:    recursive,
		MaxDepth:                maxDepth,
	}
	if total > 0 {
		m.RecursivePercentage = float64(recursive) / float64(total) * 100
	}
	if sessions > 0 {
		m.AvgPerSession = float64(total) / float64(sessions)
	}
	return m
}

// delegationPatterns returns parent->child pairs with token totals from
// both sides of the delegation.
func (q *Queries) delegationPatterns(start, end time.Time) []DelegationPattern {
	var total int64
	if err := q.st.DB().QueryRow(`
		SELECT COUNT(*) FROM delegations WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&total); err != nil || total == 0 {
		return nil
	}

	rows, err := q.st.DB().Query(`
		SELECT
			d.parent_agent,
			d.child_agent,
			COUNT(*) as count,
			SUM(COALESCE(parent_tokens.total, 0) + COALESCE(child_tokens.total, 0)) as total_tokens
		FROM delegations d
		LEFT JOIN (
			SELECT session_id, SUM(tokens_input + tokens_output) as total
			FROM messages GROUP BY session_id
		) parent_tokens ON d.session_id = parent_tokens.session_id
		LEFT JOIN (
			SELECT session_id, SUM(tokens_input + tokens_output) as total
			FROM messages GROUP BY session_id
		) child_tokens ON d.child_session_id = child_tokens.session_id
		WHERE d.created_at >= ? AND d.created_at <= ?
		  AND d.parent_agent IS NOT NULL AND d.child_agent IS NOT NULL
		GROUP BY d.parent_agent, d.child_agent
		ORDER BY total_tokens DESC
		LIMIT 20
	`, start, end)
	if err != nil {
		L_debug("analytics: delegation patterns query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []DelegationPattern
	for rows.Next() {
		var p DelegationPattern
		var tokens sql.NullInt64
		if err := rows.Scan(&p.Parent, &p.Child, &p.Count, &tokens); err != nil {
			return nil
		}
		p.TokensTotal = tokens.Int64
		p.Percentage = float64(p.Count) / float64(total) * 100
		if p.Count > 0 {
			p.TokensAvg = p.TokensTotal / p.Count
		}
		out = append(out, p)
	}
	return out
}

// agentChains returns real delegation chains: direct pairs plus depth-3
// chains found by following child_session_id.
func (q *Queries) agentChains(start, end time.Time) []AgentChain {
	rows, err := q.st.DB().Query(`
		SELECT
			parent_agent || ' -> ' || child_agent as chain,
			COUNT(*) as occurrences
		FROM delegations
		WHERE created_at >= ? AND created_at <= ?
			AND parent_agent IS NOT NULL
			AND child_agent IS NOT NULL
		GROUP BY parent_agent, child_agent
		ORDER BY occurrences DESC
		LIMIT 15
	`, start, end)
	if err != nil {
		L_debug("analytics: agent chains query failed", "error", err)
		return nil
	}

	var chains []AgentChain
	for rows.Next() {
		var c AgentChain
		if err := rows.Scan(&c.Chain, &c.Occurrences); err != nil {
			rows.Close()
			return nil
		}
		c.Depth = 2
		chains = append(chains, c)
	}
	rows.Close()

	if len(chains) > 0 {
		chains = append(chains, q.extendedChains(start, end)...)
		sort.Slice(chains, func(i, j int) bool {
			if chains[i].Depth != chains[j].Depth {
				return chains[i].Depth > chains[j].Depth
			}
			return chains[i].Occurrences > chains[j].Occurrences
		})
	}
	if len(chains) > 15 {
		chains = chains[:15]
	}
	return chains
}

// extendedChains finds depth-3 chains (a -> b -> c) by joining delegations
// through child_session_id.
func (q *Queries) extendedChains(start, end time.Time) []AgentChain {
	rows, err := q.st.DB().Query(`
		WITH d1 AS (
			SELECT * FROM delegations
			WHERE created_at >= ? AND created_at <= ?
				AND parent_agent IS NOT NULL
		),
		d2 AS (
			SELECT * FROM delegations
			WHERE created_at >= ? AND created_at <= ?
				AND parent_agent IS NOT NULL
		)
		SELECT
			d1.parent_agent || ' -> ' || d1.child_agent || ' -> ' || d2.child_agent as chain,
			COUNT(*) as occurrences
		FROM d1
		JOIN d2 ON d1.child_session_id = d2.session_id
		WHERE d2.parent_agent = d1.child_agent
		GROUP BY d1.parent_agent, d1.child_agent, d2.child_agent
		HAVING COUNT(*) >= 1
		ORDER BY occurrences DESC
		LIMIT 10
	`, start, end, start, end)
	if err != nil {
		L_debug("analytics: extended chains query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []AgentChain
	for rows.Next() {
		var c AgentChain
		if err := rows.Scan(&c.Chain, &c.Occurrences); err != nil {
			return nil
		}
		c.Depth = 3
		out = append(out, c)
	}
	return out
}

// delegationSessions returns sessions with at least two delegations and
// their child-agent sequence.
func (q *Queries) delegationSessions(start, end time.Time) []DelegationSession {
	rows, err := q.st.DB().Query(`
		SELECT
			parent_agent,
			session_id,
			COUNT(*) as delegation_count,
			STRING_AGG(child_agent, ' -> ' ORDER BY created_at) as sequence
		FROM delegations
		WHERE parent_agent IS NOT NULL
		  AND created_at >= ? AND created_at <= ?
		GROUP BY parent_agent, session_id
		HAVING COUNT(*) >= 2
		ORDER BY delegation_count DESC
		LIMIT 20
	`, start, end)
	if err != nil {
		L_debug("analytics: delegation sessions query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []DelegationSession
	for rows.Next() {
		var d DelegationSession
		if err := rows.Scan(&d.Agent, &d.SessionID, &d.DelegationCount, &d.Sequence); err != nil {
			return nil
		}
		out = append(out, d)
	}
	return out
}
