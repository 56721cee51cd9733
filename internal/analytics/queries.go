package analytics

import (
	"time"

	"github.com/roelfdiedericks/openlens/internal/store"
)

// CostConfig holds the per-1k-token rates used for estimated USD costs.
// Defaults follow common Claude pricing.
type CostConfig struct {
	Per1KInput  float64
	Per1KOutput float64
	Per1KCache  float64
}

// DefaultCostConfig returns the default rates.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		Per1KInput:  0.003,  // $3 per 1M input tokens
		Per1KOutput: 0.015,  // $15 per 1M output tokens
		Per1KCache:  0.0003, // $0.30 per 1M cache read tokens
	}
}

// Queries is the read-only analytics query surface. All methods are safe
// against empty tables and degrade individual fields to zero values on
// sub-query failure; a partial schema never breaks the whole aggregate.
type Queries struct {
	st   *store.Store
	cost CostConfig
}

// New creates the query surface over the store.
func New(st *store.Store) *Queries {
	return &Queries{st: st, cost: DefaultCostConfig()}
}

// NewWithCost creates the query surface with custom cost rates.
func NewWithCost(st *store.Store, cost CostConfig) *Queries {
	return &Queries{st: st, cost: cost}
}

// dateRange returns the window [now - days, now].
func (q *Queries) dateRange(days int) (time.Time, time.Time) {
	end := time.Now().UTC()
	return end.AddDate(0, 0, -days), end
}

// GetPeriodStats returns the complete aggregate for the last N days.
func (q *Queries) GetPeriodStats(days int) (*PeriodStats, error) {
	start, end := q.dateRange(days)

	stats := &PeriodStats{
		StartDate: start,
		EndDate:   end,
	}

	// Headline counts. These two queries are the only ones whose failure
	// fails the call; everything below degrades field by field.
	if err := q.st.DB().QueryRow(`
		SELECT COUNT(*) FROM sessions
		WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&stats.SessionCount); err != nil {
		return nil, err
	}

	if err := q.st.DB().QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(tokens_input), 0),
			COALESCE(SUM(tokens_output), 0),
			COALESCE(SUM(tokens_reasoning), 0),
			COALESCE(SUM(tokens_cache_read), 0),
			COALESCE(SUM(tokens_cache_write), 0)
		FROM messages
		WHERE created_at >= ? AND created_at <= ?
	`, start, end).Scan(&stats.MessageCount,
		&stats.Tokens.Input, &stats.Tokens.Output, &stats.Tokens.Reasoning,
		&stats.Tokens.CacheRead, &stats.Tokens.CacheWrite); err != nil {
		return nil, err
	}

	stats.Agents = q.agentStats(start, end)
	stats.Tools = q.toolStats(start, end)
	stats.Skills = q.skillStats(start, end)
	stats.TopSessions = q.topSessions(start, end, 10)
	stats.HourlyUsage = q.hourlyUsage(start, end)
	stats.AgentChains = q.agentChains(start, end)
	stats.AvgSessionDurationMin = q.avgSessionDuration(start, end)
	stats.Anomalies = q.anomalies(start, end)

	stats.DelegationMetrics = q.delegationMetrics(start, end)
	stats.DelegationPatterns = q.delegationPatterns(start, end)
	stats.AgentRoles = q.agentRoles(start, end)
	stats.HourlyDelegations = q.hourlyDelegations(start, end)
	stats.DailyStats = q.dailyStats(start, end)
	stats.SessionTokenStats = q.sessionTokenStats(start, end)
	stats.Directories = q.directoryStats(start, end)
	stats.Models = q.modelStats(start, end)
	stats.SkillsByAgent = q.skillsByAgent(start, end)
	stats.DelegationSessions = q.delegationSessions(start, end)
	stats.AgentDelegationStats = q.agentDelegationStats(start, end)
	stats.CodeStats = q.codeStats(start, end)
	stats.CostStats = q.costStats(start, end)

	return stats, nil
}

// GetAnomalies returns the anomaly strings for the last N days.
func (q *Queries) GetAnomalies(days int) []string {
	start, end := q.dateRange(days)
	return q.anomalies(start, end)
}
