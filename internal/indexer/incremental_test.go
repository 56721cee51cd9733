package indexer

import (
	"database/sql"
	"testing"
	"time"
)

func TestIngestSessionFile(t *testing.T) {
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	ledger := NewLedger(st)
	loader := NewLoader(st, ledger, syncState)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "session", "p1", "s1",
		sessionJSON("s1", "p1", "", 1000, 2000))

	loader.process(fileEvent{Path: path, FileType: "session"})

	if n := countRows(t, st, `SELECT COUNT(*) FROM sessions`); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}

	// Parentless session gets a root trace.
	if n := countRows(t, st, `SELECT COUNT(*) FROM agent_traces WHERE trace_id = 'root_s1'`); n != 1 {
		t.Errorf("expected root trace, got %d", n)
	}

	// Ledger records the file as processed in the same pass.
	info, err := ledger.Info(path)
	if err != nil || info == nil {
		t.Fatalf("expected ledger row, err=%v", err)
	}
	if info.Status != StatusProcessed {
		t.Errorf("expected processed status, got %q", info.Status)
	}
}

func TestIngestChildSessionNoRootTrace(t *testing.T) {
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	loader := NewLoader(st, NewLedger(st), syncState)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "session", "p1", "s2",
		sessionJSON("s2", "p1", "s1", 1000, 2000))
	loader.process(fileEvent{Path: path, FileType: "session"})

	if n := countRows(t, st, `SELECT COUNT(*) FROM agent_traces`); n != 0 {
		t.Errorf("child session must not get a root trace, got %d traces", n)
	}
}

func TestIngestMessageFile(t *testing.T) {
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	loader := NewLoader(st, NewLedger(st), syncState)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "message", "s1", "m1",
		messageJSON("m1", "s1", "assistant", "build", 1500, map[string]interface{}{
			"input":  10,
			"output": 20,
			"cache":  map[string]int{"read": 5, "write": 2},
		}))
	loader.process(fileEvent{Path: path, FileType: "message"})

	var input, output, cacheRead int64
	var role, modelID string
	err := st.DB().QueryRow(`
		SELECT tokens_input, tokens_output, tokens_cache_read, role, model_id
		FROM messages WHERE id = 'm1'
	`).Scan(&input, &output, &cacheRead, &role, &modelID)
	if err != nil {
		t.Fatalf("message row missing: %v", err)
	}
	if input != 10 || output != 20 || cacheRead != 5 {
		t.Errorf("token columns wrong: input=%d output=%d cache_read=%d", input, output, cacheRead)
	}
	if role != "assistant" || modelID != "claude-sonnet-4-5" {
		t.Errorf("unexpected row: role=%q model=%q", role, modelID)
	}
}

func TestIngestTaskPartDerivesDelegation(t *testing.T) {
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	loader := NewLoader(st, NewLedger(st), syncState)
	storage := t.TempDir()

	// The part's parent message supplies parent_agent.
	msgPath := writeStorageFile(t, storage, "message", "s1", "m1",
		messageJSON("m1", "s1", "assistant", "build", 1500, map[string]interface{}{}))
	loader.process(fileEvent{Path: msgPath, FileType: "message"})

	partPath := writeStorageFile(t, storage, "part", "s1", "p1",
		taskPartJSON("p1", "s1", "m1", "completed", 1600, 1800, map[string]interface{}{
			"subagent_type": "tester",
			"prompt":        "run tests",
			"session_id":    "s2",
		}))
	loader.process(fileEvent{Path: partPath, FileType: "part"})

	var durationMS int64
	var toolStatus string
	if err := st.DB().QueryRow(`
		SELECT duration_ms, tool_status FROM parts WHERE id = 'p1'
	`).Scan(&durationMS, &toolStatus); err != nil {
		t.Fatalf("part row missing: %v", err)
	}
	if durationMS != 200 {
		t.Errorf("expected duration 200ms, got %d", durationMS)
	}
	if toolStatus != "completed" {
		t.Errorf("expected completed status, got %q", toolStatus)
	}

	var subagent, childSession, parentAgent, status string
	if err := st.DB().QueryRow(`
		SELECT subagent_type, child_session_id, COALESCE(parent_agent, ''), status
		FROM agent_traces WHERE trace_id = 'del_p1'
	`).Scan(&subagent, &childSession, &parentAgent, &status); err != nil {
		t.Fatalf("delegation trace missing: %v", err)
	}
	if subagent != "tester" || childSession != "s2" || parentAgent != "build" || status != "completed" {
		t.Errorf("unexpected trace: subagent=%q child=%q parent=%q status=%q",
			subagent, childSession, parentAgent, status)
	}

	var childAgent string
	if err := st.DB().QueryRow(`
		SELECT child_agent FROM delegations WHERE id = 'p1'
	`).Scan(&childAgent); err != nil {
		t.Fatalf("delegation row missing: %v", err)
	}
	if childAgent != "tester" {
		t.Errorf("expected child agent tester, got %q", childAgent)
	}

	// The delegation trace gets an estimated prompt token count.
	var tokensIn int64
	if err := st.DB().QueryRow(`
		SELECT tokens_in FROM agent_traces WHERE trace_id = 'del_p1'
	`).Scan(&tokensIn); err != nil {
		t.Fatalf("trace missing: %v", err)
	}
	if tokensIn <= 0 {
		t.Errorf("expected estimated tokens_in > 0, got %d", tokensIn)
	}
}

func TestIngestIdempotent(t *testing.T) {
	// Scenario: the same part file delivered five times produces exactly
	// one part row, one delegation trace and one delegation row.
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	loader := NewLoader(st, NewLedger(st), syncState)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "part", "s1", "p1",
		taskPartJSON("p1", "s1", "m1", "completed", 1600, 1800, map[string]interface{}{
			"subagent_type": "tester",
			"session_id":    "s2",
		}))

	for i := 0; i < 5; i++ {
		loader.process(fileEvent{Path: path, FileType: "part"})
	}

	if n := countRows(t, st, `SELECT COUNT(*) FROM parts`); n != 1 {
		t.Errorf("expected 1 part, got %d", n)
	}
	if n := countRows(t, st, `SELECT COUNT(*) FROM agent_traces WHERE trace_id = 'del_p1'`); n != 1 {
		t.Errorf("expected 1 delegation trace, got %d", n)
	}
	if n := countRows(t, st, `SELECT COUNT(*) FROM delegations`); n != 1 {
		t.Errorf("expected 1 delegation, got %d", n)
	}
}

func TestIngestPartStatusTransition(t *testing.T) {
	// A task part first delivered as completed and then re-delivered as
	// error must refresh the trace's terminal fields.
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	loader := NewLoader(st, NewLedger(st), syncState)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "part", "s1", "p1",
		taskPartJSON("p1", "s1", "m1", "completed", 1600, 1800, map[string]interface{}{
			"subagent_type": "tester",
		}))
	loader.process(fileEvent{Path: path, FileType: "part"})

	writeStorageFile(t, storage, "part", "s1", "p1",
		taskPartJSON("p1", "s1", "m1", "error", 1600, 2100, map[string]interface{}{
			"subagent_type": "tester",
		}))
	loader.process(fileEvent{Path: path, FileType: "part"})

	var status string
	var durationMS int64
	if err := st.DB().QueryRow(`
		SELECT status, COALESCE(duration_ms, 0) FROM agent_traces WHERE trace_id = 'del_p1'
	`).Scan(&status, &durationMS); err != nil {
		t.Fatalf("trace missing: %v", err)
	}
	if status != "error" {
		t.Errorf("expected refreshed status error, got %q", status)
	}
	if durationMS != 500 {
		t.Errorf("expected refreshed duration 500, got %d", durationMS)
	}
}

func TestIngestStepAndPatchParts(t *testing.T) {
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	loader := NewLoader(st, NewLedger(st), syncState)
	storage := t.TempDir()

	stepPath := writeStorageFile(t, storage, "part", "s1", "p2", map[string]interface{}{
		"id":        "p2",
		"sessionID": "s1",
		"messageID": "m1",
		"type":      "step-finish",
		"time":      map[string]int64{"start": 1700},
		"tokens":    map[string]int64{"input": 100, "output": 40},
	})
	loader.process(fileEvent{Path: stepPath, FileType: "part"})

	var kind string
	var tokensInput sql.NullInt64
	if err := st.DB().QueryRow(`
		SELECT kind, tokens_input FROM step_events WHERE id = 'p2'
	`).Scan(&kind, &tokensInput); err != nil {
		t.Fatalf("step event missing: %v", err)
	}
	if kind != "step-finish" || !tokensInput.Valid || tokensInput.Int64 != 100 {
		t.Errorf("unexpected step event: kind=%q tokens=%v", kind, tokensInput)
	}

	patchPath := writeStorageFile(t, storage, "part", "s1", "p3", map[string]interface{}{
		"id":        "p3",
		"sessionID": "s1",
		"type":      "patch",
		"hash":      "deadbeef",
		"files":     []string{"main.go", "main_test.go"},
		"time":      map[string]int64{"start": 1800},
	})
	loader.process(fileEvent{Path: patchPath, FileType: "part"})

	var hash string
	if err := st.DB().QueryRow(`
		SELECT git_hash FROM patches WHERE id = 'p3'
	`).Scan(&hash); err != nil {
		t.Fatalf("patch missing: %v", err)
	}
	if hash != "deadbeef" {
		t.Errorf("expected patch hash, got %q", hash)
	}
}

func TestIngestMalformedFileMarksFailed(t *testing.T) {
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	ledger := NewLedger(st)
	loader := NewLoader(st, ledger, syncState)

	dir := t.TempDir()
	path := dir + "/bad.json"
	if err := writeFile(path, "{not json"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loader.process(fileEvent{Path: path, FileType: "session"})

	info, err := ledger.Info(path)
	if err != nil || info == nil {
		t.Fatalf("expected ledger row for failed file, err=%v", err)
	}
	if info.Status != StatusFailed {
		t.Errorf("expected failed status, got %q", info.Status)
	}
	if n := countRows(t, st, `SELECT COUNT(*) FROM sessions`); n != 0 {
		t.Errorf("malformed file must not create rows, got %d", n)
	}
}

func TestLoaderQueueLifecycle(t *testing.T) {
	st := setupTestStore(t)
	syncState, _ := NewSyncState(st)
	loader := NewLoader(st, NewLedger(st), syncState)
	storage := t.TempDir()

	path := writeStorageFile(t, storage, "session", "p1", "s1",
		sessionJSON("s1", "p1", "", 1000, 2000))

	loader.Start()
	loader.Start() // idempotent
	loader.Enqueue(path, "session")

	deadline := time.Now().Add(5 * time.Second)
	for loader.QueueSize() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	loader.Stop()
	loader.Stop() // idempotent

	if n := countRows(t, st, `SELECT COUNT(*) FROM sessions`); n != 1 {
		t.Errorf("expected queued file ingested, got %d sessions", n)
	}
}
