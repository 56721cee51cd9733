// Package analytics is the read-only query surface over the analytics
// schema: period statistics, session summaries, delegation metrics and
// trace trees for dashboards and report generators.
package analytics

import "time"

// TokenStats aggregates token counters.
type TokenStats struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	Reasoning  int64 `json:"reasoning"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
}

// Total returns input + output + reasoning.
func (t TokenStats) Total() int64 {
	return t.Input + t.Output + t.Reasoning
}

// TotalWithCache returns the total including cache operations.
func (t TokenStats) TotalWithCache() int64 {
	return t.Total() + t.CacheRead + t.CacheWrite
}

// TotalInputWithCache returns input including cache reads.
func (t TokenStats) TotalInputWithCache() int64 {
	return t.Input + t.CacheRead
}

// CacheHitRatio returns 100 * cache_read / (input + cache_read), 0 when the
// denominator is zero. Always within [0, 100].
func (t TokenStats) CacheHitRatio() float64 {
	total := t.TotalInputWithCache()
	if total == 0 {
		return 0
	}
	return float64(t.CacheRead) / float64(total) * 100
}

// AgentStats is per-agent message and token usage.
type AgentStats struct {
	Agent        string     `json:"agent"`
	MessageCount int64      `json:"message_count"`
	Tokens       TokenStats `json:"tokens"`
}

// ToolStats is per-tool invocation and failure counts.
type ToolStats struct {
	ToolName    string `json:"tool_name"`
	Invocations int64  `json:"invocations"`
	Failures    int64  `json:"failures"`
}

// FailureRate returns the failure percentage, 0 when never invoked.
func (t ToolStats) FailureRate() float64 {
	if t.Invocations == 0 {
		return 0
	}
	return float64(t.Failures) / float64(t.Invocations) * 100
}

// ToolPerformance is per-tool duration statistics.
type ToolPerformance struct {
	ToolName      string `json:"tool_name"`
	Invocations   int64  `json:"invocations"`
	AvgDurationMS int64  `json:"avg_duration_ms"`
	MaxDurationMS int64  `json:"max_duration_ms"`
	MinDurationMS int64  `json:"min_duration_ms"`
	Failures      int64  `json:"failures"`
}

// SkillStats counts skill loads.
type SkillStats struct {
	SkillName string `json:"skill_name"`
	LoadCount int64  `json:"load_count"`
}

// SkillByAgent counts skill loads per agent.
type SkillByAgent struct {
	Agent     string `json:"agent"`
	SkillName string `json:"skill_name"`
	Count     int64  `json:"count"`
}

// SessionStats summarizes one session inside a period.
type SessionStats struct {
	SessionID       string     `json:"session_id"`
	Title           string     `json:"title"`
	Tokens          TokenStats `json:"tokens"`
	MessageCount    int64      `json:"message_count"`
	DurationMinutes int64      `json:"duration_minutes"`
}

// HourlyStats is usage by hour of day.
type HourlyStats struct {
	Hour         int   `json:"hour"`
	MessageCount int64 `json:"message_count"`
	Tokens       int64 `json:"tokens"`
}

// HourlyDelegations is delegation counts by hour of day.
type HourlyDelegations struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// AgentChain is a delegation chain pattern like "executor -> tester".
type AgentChain struct {
	Chain       string `json:"chain"`
	Occurrences int64  `json:"occurrences"`
	Depth       int    `json:"depth"`
}

// SessionTokenStats is the token distribution across sessions.
type SessionTokenStats struct {
	AvgTokens     int64 `json:"avg_tokens"`
	MaxTokens     int64 `json:"max_tokens"`
	MinTokens     int64 `json:"min_tokens"`
	MedianTokens  int64 `json:"median_tokens"`
	TotalSessions int64 `json:"total_sessions"`
}

// DelegationPattern is a parent->child delegation pair with token totals.
type DelegationPattern struct {
	Parent      string  `json:"parent"`
	Child       string  `json:"child"`
	Count       int64   `json:"count"`
	Percentage  float64 `json:"percentage"`
	TokensTotal int64   `json:"tokens_total"`
	TokensAvg   int64   `json:"tokens_avg"`
}

// AgentRole classifies an agent by its delegation behavior.
type AgentRole struct {
	Agent               string  `json:"agent"`
	Role                string  `json:"role"` // orchestrator, hub, worker
	DelegationsSent     int64   `json:"delegations_sent"`
	DelegationsReceived int64   `json:"delegations_received"`
	FanOut              float64 `json:"fan_out"`
	TokensTotal         int64   `json:"tokens_total"`
	TokensPerTask       int64   `json:"tokens_per_task"`
}

// DelegationMetrics is the overall delegation aggregate.
type DelegationMetrics struct {
	TotalDelegations        int64   `json:"total_delegations"`
	SessionsWithDelegations int64   `json:"sessions_with_delegations"`
	UniquePatterns          int64   `json:"unique_patterns"`
	RecursiveDelegations    int64   `json:"recursive_delegations"`
	RecursivePercentage     float64 `json:"recursive_percentage"`
	MaxDepth                int     `json:"max_depth"`
	AvgPerSession           float64 `json:"avg_per_session"`
}

// DelegationSession is a session with multiple delegations.
type DelegationSession struct {
	Agent           string `json:"agent"`
	SessionID       string `json:"session_id"`
	DelegationCount int64  `json:"delegation_count"`
	Sequence        string `json:"sequence"`
}

// AgentDelegationStats is delegation usage per parent agent.
type AgentDelegationStats struct {
	Agent                   string  `json:"agent"`
	SessionsWithDelegations int64   `json:"sessions_with_delegations"`
	TotalDelegations        int64   `json:"total_delegations"`
	AvgPerSession           float64 `json:"avg_per_session"`
	MaxPerSession           int64   `json:"max_per_session"`
}

// DailyStats is one day of the period time series.
type DailyStats struct {
	Date        time.Time `json:"date"`
	Sessions    int64     `json:"sessions"`
	Messages    int64     `json:"messages"`
	Tokens      int64     `json:"tokens"`
	Delegations int64     `json:"delegations"`
}

// DirectoryStats is usage per working directory.
type DirectoryStats struct {
	Directory string `json:"directory"`
	Sessions  int64  `json:"sessions"`
	Tokens    int64  `json:"tokens"`
}

// ModelStats is usage per model.
type ModelStats struct {
	ModelID    string  `json:"model_id"`
	ProviderID string  `json:"provider_id"`
	Messages   int64   `json:"messages"`
	Tokens     int64   `json:"tokens"`
	Percentage float64 `json:"percentage"`
}

// CodeStats totals the change summaries over a period.
type CodeStats struct {
	Additions           int64 `json:"additions"`
	Deletions           int64 `json:"deletions"`
	FilesChanged        int64 `json:"files_changed"`
	SessionsWithChanges int64 `json:"sessions_with_changes"`
}

// CostStats totals message costs over a period.
type CostStats struct {
	TotalCost         float64 `json:"total_cost"`
	AvgCostPerMessage float64 `json:"avg_cost_per_message"`
	MessagesWithCost  int64   `json:"messages_with_cost"`
}

// PeriodStats is the complete aggregate for a time window.
type PeriodStats struct {
	StartDate    time.Time  `json:"start_date"`
	EndDate      time.Time  `json:"end_date"`
	SessionCount int64      `json:"session_count"`
	MessageCount int64      `json:"message_count"`
	Tokens       TokenStats `json:"tokens"`

	Agents      []AgentStats   `json:"agents"`
	Tools       []ToolStats    `json:"tools"`
	Skills      []SkillStats   `json:"skills"`
	TopSessions []SessionStats `json:"top_sessions"`

	HourlyUsage           []HourlyStats `json:"hourly_usage"`
	AgentChains           []AgentChain  `json:"agent_chains"`
	AvgSessionDurationMin float64       `json:"avg_session_duration_min"`
	Anomalies             []string      `json:"anomalies"`

	DelegationMetrics    *DelegationMetrics     `json:"delegation_metrics"`
	DelegationPatterns   []DelegationPattern    `json:"delegation_patterns"`
	AgentRoles           []AgentRole            `json:"agent_roles"`
	HourlyDelegations    []HourlyDelegations    `json:"hourly_delegations"`
	DailyStats           []DailyStats           `json:"daily_stats"`
	SessionTokenStats    *SessionTokenStats     `json:"session_token_stats"`
	Directories          []DirectoryStats       `json:"directories"`
	Models               []ModelStats           `json:"models"`
	SkillsByAgent        []SkillByAgent         `json:"skills_by_agent"`
	DelegationSessions   []DelegationSession    `json:"delegation_sessions"`
	AgentDelegationStats []AgentDelegationStats `json:"agent_delegation_stats"`
	CodeStats            CodeStats              `json:"code_stats"`
	CostStats            CostStats              `json:"cost_stats"`
}

// AgentTrace is one span of the delegation forest: a root_<session> trace
// per top-level session and a del_<part> trace per task delegation.
type AgentTrace struct {
	TraceID        string     `json:"trace_id"`
	SessionID      string     `json:"session_id"`
	ParentTraceID  string     `json:"parent_trace_id"`
	ParentAgent    string     `json:"parent_agent"`
	SubagentType   string     `json:"subagent_type"`
	PromptInput    string     `json:"prompt_input"`
	PromptOutput   string     `json:"prompt_output"`
	StartedAt      *time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	DurationMS     int64      `json:"duration_ms"`
	TokensIn       int64      `json:"tokens_in"`
	TokensOut      int64      `json:"tokens_out"`
	Status         string     `json:"status"`
	ChildSessionID string     `json:"child_session_id"`
}

// TraceTreeNode is a node of the reconstructed delegation hierarchy.
type TraceTreeNode struct {
	Trace    AgentTrace       `json:"trace"`
	Children []*TraceTreeNode `json:"children"`
	Depth    int              `json:"depth"`
}

// SessionWithTraces lists a session carrying agent traces.
type SessionWithTraces struct {
	SessionID       string     `json:"session_id"`
	Title           string     `json:"title"`
	TraceCount      int64      `json:"trace_count"`
	FirstTraceAt    *time.Time `json:"first_trace_at"`
	TotalDurationMS int64      `json:"total_duration_ms"`
}

// TraceStats aggregates traces over a period.
type TraceStats struct {
	TotalTraces        int64 `json:"total_traces"`
	UniqueAgents       int64 `json:"unique_agents"`
	SessionsWithTraces int64 `json:"sessions_with_traces"`
	AvgDurationMS      int64 `json:"avg_duration_ms"`
	TotalDurationMS    int64 `json:"total_duration_ms"`
	Completed          int64 `json:"completed"`
	Errors             int64 `json:"errors"`
}

// AgentTypeStats aggregates traces per subagent type.
type AgentTypeStats struct {
	Agent           string `json:"agent"`
	Count           int64  `json:"count"`
	AvgDurationMS   int64  `json:"avg_duration_ms"`
	TotalDurationMS int64  `json:"total_duration_ms"`
	Completed       int64  `json:"completed"`
}

// SessionNode is a node of the session hierarchy tree.
type SessionNode struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt *time.Time     `json:"created_at"`
	Children  []*SessionNode `json:"children"`
}

// SessionHierarchy is the parents-up, children-down view of one session.
type SessionHierarchy struct {
	Parents  []SessionRef `json:"parents"`
	Current  string       `json:"current"`
	Children []SessionRef `json:"children"`
}

// SessionRef is a minimal session reference.
type SessionRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SessionSummary is the full per-session KPI set for detail views.
type SessionSummary struct {
	SessionID   string     `json:"session_id"`
	Title       string     `json:"title"`
	Directory   string     `json:"directory"`
	CreatedAt   *time.Time `json:"created_at"`
	Tokens      TokenStats `json:"tokens"`
	Messages    int64      `json:"messages"`
	ToolCalls   int64      `json:"tool_calls"`
	ToolErrors  int64      `json:"tool_errors"`
	Delegations int64      `json:"delegations"`
	DurationMS  int64      `json:"duration_ms"`
	CostUSD     float64    `json:"cost_usd"`
}

// TimelineEvent is one entry of a session's part timeline.
type TimelineEvent struct {
	PartID     string     `json:"part_id"`
	Kind       string     `json:"kind"`
	Tool       string     `json:"tool"`
	Status     string     `json:"status"`
	At         *time.Time `json:"at"`
	DurationMS int64      `json:"duration_ms"`
}

// GlobalStats is the all-time (or bounded-range) aggregate.
type GlobalStats struct {
	Sessions         int64      `json:"sessions"`
	Messages         int64      `json:"messages"`
	Parts            int64      `json:"parts"`
	Delegations      int64      `json:"delegations"`
	Traces           int64      `json:"traces"`
	Tokens           TokenStats `json:"tokens"`
	TotalCost        float64    `json:"total_cost"`
	LastSourceUpdate *time.Time `json:"last_source_update"`
	LastIngest       *time.Time `json:"last_ingest"`
}
