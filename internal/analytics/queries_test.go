package analytics

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/openlens/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "analytics.duckdb"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertSession(t *testing.T, st *store.Store, id, parentID, title string, createdAt time.Time) {
	t.Helper()
	var parent interface{}
	if parentID != "" {
		parent = parentID
	}
	if _, err := st.Exec(`
		INSERT INTO sessions (id, project_id, directory, title, parent_id, created_at, updated_at)
		VALUES (?, 'p1', '/x', ?, ?, ?, ?)
	`, id, title, parent, createdAt, createdAt.Add(time.Hour)); err != nil {
		t.Fatalf("session insert failed: %v", err)
	}
}

func insertMessage(t *testing.T, st *store.Store, id, sessionID, agent string, createdAt time.Time, input, output, cacheRead int64) {
	t.Helper()
	var agentVal interface{}
	if agent != "" {
		agentVal = agent
	}
	if _, err := st.Exec(`
		INSERT INTO messages (id, session_id, role, agent, model_id, provider_id, cost,
			tokens_input, tokens_output, tokens_cache_read, created_at)
		VALUES (?, ?, 'assistant', ?, 'claude-sonnet-4-5', 'anthropic', 0.01, ?, ?, ?, ?)
	`, id, sessionID, agentVal, input, output, cacheRead, createdAt); err != nil {
		t.Fatalf("message insert failed: %v", err)
	}
}

func insertTaskPart(t *testing.T, st *store.Store, id, sessionID, messageID, status string, createdAt time.Time) {
	t.Helper()
	if _, err := st.Exec(`
		INSERT INTO parts (id, session_id, message_id, part_type, tool_name, tool_status, created_at, duration_ms, arguments)
		VALUES (?, ?, ?, 'tool', 'task', ?, ?, 200, '{"subagent_type":"tester"}')
	`, id, sessionID, messageID, status, createdAt); err != nil {
		t.Fatalf("part insert failed: %v", err)
	}
}

func insertDelegation(t *testing.T, st *store.Store, id, sessionID, parent, child, childSession string, createdAt time.Time) {
	t.Helper()
	var childSess interface{}
	if childSession != "" {
		childSess = childSession
	}
	if _, err := st.Exec(`
		INSERT INTO delegations (id, message_id, session_id, parent_agent, child_agent, child_session_id, created_at)
		VALUES (?, 'm1', ?, ?, ?, ?, ?)
	`, id, sessionID, parent, child, childSess, createdAt); err != nil {
		t.Fatalf("delegation insert failed: %v", err)
	}
}

func TestTokenStatsCacheHitRatio(t *testing.T) {
	cases := []struct {
		input, cacheRead int64
		want             float64
	}{
		{0, 0, 0},
		{10, 5, 100 * 5.0 / 15.0},
		{0, 100, 100},
		{100, 0, 0},
	}
	for _, c := range cases {
		ts := TokenStats{Input: c.input, CacheRead: c.cacheRead}
		got := ts.CacheHitRatio()
		if math.Abs(got-c.want) > 0.001 {
			t.Errorf("CacheHitRatio(input=%d cache=%d) = %v, want %v", c.input, c.cacheRead, got, c.want)
		}
		if got < 0 || got > 100 {
			t.Errorf("ratio out of range: %v", got)
		}
	}
}

func TestPeriodStatsEmptyStore(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	stats, err := q.GetPeriodStats(7)
	if err != nil {
		t.Fatalf("GetPeriodStats on empty store failed: %v", err)
	}
	if stats.SessionCount != 0 || stats.MessageCount != 0 {
		t.Errorf("expected zeros, got %d sessions %d messages", stats.SessionCount, stats.MessageCount)
	}
	if stats.DelegationMetrics != nil {
		t.Error("expected nil delegation metrics on empty store")
	}
	if stats.SessionTokenStats != nil {
		t.Error("expected nil session token stats on empty store")
	}
	if len(stats.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %v", stats.Anomalies)
	}
}

func TestPeriodStatsSingleSession(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC()
	insertSession(t, st, "s1", "", "t", now.Add(-time.Hour))
	insertMessage(t, st, "m1", "s1", "build", now.Add(-time.Hour), 10, 20, 5)

	stats, err := q.GetPeriodStats(1)
	if err != nil {
		t.Fatalf("GetPeriodStats failed: %v", err)
	}
	if stats.SessionCount != 1 || stats.MessageCount != 1 {
		t.Fatalf("expected 1/1, got %d/%d", stats.SessionCount, stats.MessageCount)
	}
	if stats.Tokens.Input != 10 || stats.Tokens.Output != 20 || stats.Tokens.CacheRead != 5 {
		t.Errorf("unexpected tokens: %+v", stats.Tokens)
	}

	// cache_hit_ratio = 100 * 5 / (10 + 5)
	if ratio := stats.Tokens.CacheHitRatio(); math.Abs(ratio-33.333) > 0.01 {
		t.Errorf("expected cache hit ratio ~33.3, got %v", ratio)
	}

	if len(stats.Agents) != 1 || stats.Agents[0].Agent != "build" {
		t.Errorf("unexpected agents: %+v", stats.Agents)
	}
	if len(stats.TopSessions) != 1 || stats.TopSessions[0].SessionID != "s1" {
		t.Errorf("unexpected top sessions: %+v", stats.TopSessions)
	}
}

func TestAnomalyExcessiveTaskCalls(t *testing.T) {
	// Scenario: 11 task parts in one session flags an anomaly of the form
	// "Session 't' has 11 task calls".
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC()
	insertSession(t, st, "s1", "", "t", now.Add(-time.Hour))
	insertMessage(t, st, "m1", "s1", "build", now.Add(-time.Hour), 1, 1, 0)
	for i := 0; i < 11; i++ {
		insertTaskPart(t, st, fmt.Sprintf("p%d", i), "s1", "m1", "completed", now.Add(-time.Hour))
	}

	anomalies := q.GetAnomalies(1)
	if len(anomalies) == 0 {
		t.Fatal("expected an anomaly")
	}
	want := "Session 't' has 11 task calls"
	if anomalies[0] != want {
		t.Errorf("expected %q, got %q", want, anomalies[0])
	}
}

func TestAnomalyToolFailureRate(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC()
	// 10 invocations, 3 failures: 30% > 20% threshold.
	for i := 0; i < 10; i++ {
		status := "completed"
		if i < 3 {
			status = "error"
		}
		if _, err := st.Exec(`
			INSERT INTO parts (id, session_id, message_id, part_type, tool_name, tool_status, created_at)
			VALUES (?, 's1', 'm1', 'tool', 'bash', ?, ?)
		`, fmt.Sprintf("p%d", i), status, now.Add(-time.Hour)); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	anomalies := q.GetAnomalies(1)
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %v", anomalies)
	}
	want := "Tool 'bash' has 30% failure rate (3/10)"
	if anomalies[0] != want {
		t.Errorf("expected %q, got %q", want, anomalies[0])
	}
}

func TestDelegationMetricsAndChains(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC().Add(-time.Hour)
	insertDelegation(t, st, "d1", "s1", "executor", "tester", "s2", now)
	insertDelegation(t, st, "d2", "s2", "tester", "quality", "s3", now)
	insertDelegation(t, st, "d3", "s1", "executor", "tester", "", now)

	stats, err := q.GetPeriodStats(1)
	if err != nil {
		t.Fatalf("GetPeriodStats failed: %v", err)
	}

	m := stats.DelegationMetrics
	if m == nil {
		t.Fatal("expected delegation metrics")
	}
	if m.TotalDelegations != 3 {
		t.Errorf("expected 3 delegations, got %d", m.TotalDelegations)
	}
	if m.SessionsWithDelegations != 2 {
		t.Errorf("expected 2 sessions, got %d", m.SessionsWithDelegations)
	}
	if m.UniquePatterns != 2 {
		t.Errorf("expected 2 unique patterns, got %d", m.UniquePatterns)
	}
	// s1 -> s2 -> s3 gives a chain of depth 2, so 3 agents.
	if m.MaxDepth != 3 {
		t.Errorf("expected max depth 3, got %d", m.MaxDepth)
	}

	foundExtended := false
	for _, c := range stats.AgentChains {
		if c.Chain == "executor -> tester -> quality" && c.Depth == 3 {
			foundExtended = true
		}
	}
	if !foundExtended {
		t.Errorf("expected extended chain, got %+v", stats.AgentChains)
	}
}

func TestDelegationChainCycleTerminates(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC().Add(-time.Hour)
	insertDelegation(t, st, "d1", "s1", "a", "b", "s2", now)
	insertDelegation(t, st, "d2", "s2", "b", "a", "s1", now)

	stats, err := q.GetPeriodStats(1)
	if err != nil {
		t.Fatalf("GetPeriodStats failed: %v", err)
	}
	if stats.DelegationMetrics == nil {
		t.Fatal("expected metrics despite cycle")
	}
	if stats.DelegationMetrics.MaxDepth > 101 {
		t.Errorf("depth cap violated: %d", stats.DelegationMetrics.MaxDepth)
	}
}

func TestTraceTreeFollowsChildSessions(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC()
	if _, err := st.Exec(`
		INSERT INTO agent_traces (trace_id, session_id, parent_trace_id, subagent_type, status, started_at, child_session_id)
		VALUES
			('root_s1', 's1', NULL, 'user', 'completed', ?, 's1'),
			('del_p1', 's1', 'root_s1', 'tester', 'completed', ?, 's2'),
			('root_s2', 's2', NULL, 'user', 'completed', ?, 's2')
	`, now, now.Add(time.Second), now.Add(2*time.Second)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	roots := q.GetTraceTree("s1")
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	if roots[0].Trace.TraceID != "root_s1" {
		t.Errorf("expected root_s1, got %q", roots[0].Trace.TraceID)
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].Trace.TraceID != "del_p1" {
		t.Fatalf("expected del_p1 child, got %+v", roots[0].Children)
	}
}

func TestSessionTree(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC()
	insertSession(t, st, "s1", "", "root", now)
	insertSession(t, st, "s2", "s1", "child a", now.Add(time.Minute))
	insertSession(t, st, "s3", "s1", "child b", now.Add(2*time.Minute))
	insertSession(t, st, "s4", "s2", "grandchild", now.Add(3*time.Minute))

	tree := q.GetSessionTree("s1")
	if tree == nil {
		t.Fatal("expected tree")
	}
	if len(tree.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(tree.Children))
	}

	var s2 *SessionNode
	for _, c := range tree.Children {
		if c.ID == "s2" {
			s2 = c
		}
	}
	if s2 == nil || len(s2.Children) != 1 || s2.Children[0].ID != "s4" {
		t.Errorf("expected grandchild under s2, got %+v", s2)
	}

	h := q.GetSessionHierarchy("s2")
	if len(h.Parents) != 2 || h.Parents[0].ID != "s1" {
		t.Errorf("unexpected hierarchy parents: %+v", h.Parents)
	}
	if len(h.Children) != 1 || h.Children[0].ID != "s4" {
		t.Errorf("unexpected hierarchy children: %+v", h.Children)
	}
}

func TestSessionSummaryAndGlobalStats(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC()
	insertSession(t, st, "s1", "", "t", now.Add(-time.Hour))
	insertMessage(t, st, "m1", "s1", "build", now.Add(-time.Hour), 1000, 500, 0)
	insertMessage(t, st, "m2", "s1", "build", now.Add(-30*time.Minute), 2000, 700, 0)
	insertTaskPart(t, st, "p1", "s1", "m1", "completed", now.Add(-time.Hour))
	insertDelegation(t, st, "d1", "s1", "build", "tester", "", now.Add(-time.Hour))

	summary := q.GetSessionSummary("s1")
	if summary == nil {
		t.Fatal("expected summary")
	}
	if summary.Messages != 2 || summary.Tokens.Input != 3000 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.ToolCalls != 1 || summary.Delegations != 1 {
		t.Errorf("unexpected tool/delegation counts: %+v", summary)
	}
	if summary.DurationMS != int64(30*time.Minute/time.Millisecond) {
		t.Errorf("unexpected duration: %d", summary.DurationMS)
	}
	if summary.CostUSD <= 0 {
		t.Errorf("expected positive estimated cost, got %v", summary.CostUSD)
	}

	if q.GetSessionSummary("nope") != nil {
		t.Error("expected nil summary for unknown session")
	}

	g := q.GetGlobalStats(nil, nil)
	if g.Sessions != 1 || g.Messages != 2 || g.Parts != 1 || g.Delegations != 1 {
		t.Errorf("unexpected global stats: %+v", g)
	}
	if g.LastSourceUpdate == nil {
		t.Error("expected last source update")
	}
}

func TestSyncStatusRow(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	status, err := q.GetSyncStatus()
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if status.Phase != "init" || status.IsReady {
		t.Errorf("unexpected initial status: %+v", status)
	}

	if _, err := st.Exec(`
		UPDATE sync_state SET phase = 'realtime', files_total = 10, files_done = 10 WHERE id = 1
	`); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	status, err = q.GetSyncStatus()
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if !status.IsReady || status.Progress != 100 {
		t.Errorf("expected ready at 100%%, got %+v", status)
	}
}

func TestDailyStatsCombinesSources(t *testing.T) {
	st := setupTestStore(t)
	q := New(st)

	now := time.Now().UTC()
	insertSession(t, st, "s1", "", "t", now.Add(-26*time.Hour))
	insertMessage(t, st, "m1", "s1", "build", now.Add(-2*time.Hour), 10, 10, 0)
	insertDelegation(t, st, "d1", "s1", "build", "tester", "", now.Add(-2*time.Hour))

	stats, err := q.GetPeriodStats(3)
	if err != nil {
		t.Fatalf("GetPeriodStats failed: %v", err)
	}
	if len(stats.DailyStats) < 1 {
		t.Fatal("expected daily stats")
	}

	var totalMessages, totalDelegations int64
	for _, d := range stats.DailyStats {
		totalMessages += d.Messages
		totalDelegations += d.Delegations
	}
	if totalMessages != 1 || totalDelegations != 1 {
		t.Errorf("daily stats miscounted: messages=%d delegations=%d", totalMessages, totalDelegations)
	}
}
