package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/metrics"
	"github.com/roelfdiedericks/openlens/internal/store"
	"github.com/roelfdiedericks/openlens/internal/tokens"
)

// fileEvent is one file handed to the incremental loader.
type fileEvent struct {
	Path     string
	FileType string
}

const (
	loaderQueueSize = 4096
	loaderWorkers   = 4
)

// Loader is the incremental (live-path) loader: it parses individual JSON
// files and upserts them into the raw and derived tables. Every write is
// INSERT OR REPLACE keyed on natural primary keys, so repeated delivery of
// the same file converges.
type Loader struct {
	st        *store.Store
	ledger    *Ledger
	deriver   *Deriver
	syncState *SyncState
	estimator *tokens.Estimator

	queue   chan fileEvent
	pending int64 // queued but not yet finished

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewLoader creates an incremental loader.
func NewLoader(st *store.Store, ledger *Ledger, syncState *SyncState) *Loader {
	return &Loader{
		st:        st,
		ledger:    ledger,
		deriver:   NewDeriver(st),
		syncState: syncState,
		estimator: tokens.Get(),
		queue:     make(chan fileEvent, loaderQueueSize),
	}
}

// Start launches the worker pool. Idempotent.
func (l *Loader) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < loaderWorkers; i++ {
		l.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-l.queue:
					l.process(ev)
					atomic.AddInt64(&l.pending, -1)
					l.syncState.SetQueueSize(int(atomic.LoadInt64(&l.pending)))
				}
			}
		})
	}
	logging.L_info("loader: started", "workers", loaderWorkers)
}

// Stop cancels the workers and waits for them. Idempotent; in-flight files
// finish or are retried by the reconciler later.
func (l *Loader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	l.cancel()
	if err := l.group.Wait(); err != nil {
		logging.L_debug("loader: worker error on stop", "error", err)
	}
	logging.L_info("loader: stopped")
}

// Enqueue submits a file for ingestion. Never blocks the caller: when the
// queue is full the event is dropped and the reconciler picks the file up
// on its next scan.
func (l *Loader) Enqueue(path, fileType string) {
	select {
	case l.queue <- fileEvent{Path: path, FileType: fileType}:
		atomic.AddInt64(&l.pending, 1)
		l.syncState.SetQueueSize(int(atomic.LoadInt64(&l.pending)))
	default:
		metrics.Count("indexer/loader", "queue_drops")
		logging.L_warn("loader: queue full, dropping event", "path", path)
	}
}

// QueueSize returns the number of queued-but-unfinished files.
func (l *Loader) QueueSize() int {
	return int(atomic.LoadInt64(&l.pending))
}

// process ingests one file. Errors mark the ledger failed and are swallowed;
// the per-file granularity keeps one bad file from stalling the pipeline.
func (l *Loader) process(ev fileEvent) {
	info, err := os.Stat(ev.Path)
	if err != nil {
		// Deleted between event and processing; nothing to record.
		logging.L_trace("loader: stat failed", "path", ev.Path, "error", err)
		return
	}
	mtime := float64(info.ModTime().UnixMilli()) / 1000.0

	if err := l.ingest(ev, mtime); err != nil {
		metrics.Count("indexer/loader", "file_errors")
		logging.L_warn("loader: ingest failed", "path", ev.Path, "error", err)
		if markErr := l.ledger.Mark(ev.Path, ev.FileType, StatusFailed, "", mtime); markErr != nil {
			logging.L_error("loader: ledger mark failed", "path", ev.Path, "error", markErr)
		}
		return
	}

	metrics.Count("indexer/loader", "files_processed")
	logging.L_trace("loader: processed", "path", ev.Path, "type", ev.FileType)
}

// ingest parses the file and performs the table writes plus the ledger mark
// in one write section.
func (l *Loader) ingest(ev fileEvent, mtime float64) error {
	data, err := os.ReadFile(ev.Path)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}

	switch ev.FileType {
	case "session":
		return l.ingestSession(ev.Path, data, mtime)
	case "message":
		return l.ingestMessage(ev.Path, data, mtime)
	case "part":
		return l.ingestPart(ev.Path, data, mtime)
	default:
		return fmt.Errorf("unknown file type %q", ev.FileType)
	}
}

func (l *Loader) ingestSession(path string, data []byte, mtime float64) error {
	var s sessionFile
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	if s.ID == "" {
		return fmt.Errorf("session file missing id")
	}

	return l.st.WriteTx(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT OR REPLACE INTO sessions (
				id, project_id, directory, title, parent_id, version,
				additions, deletions, files_changed, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, nullable(s.ProjectID), nullable(s.Directory), nullable(s.Title),
			nullable(s.ParentID), nullable(s.Version),
			s.Summary.Additions, s.Summary.Deletions, s.Summary.Files,
			msToTime(s.Time.Created), msToTime(s.Time.Updated))
		if err != nil {
			return fmt.Errorf("session upsert failed: %w", err)
		}

		if s.ParentID == "" {
			if err := l.deriver.DeriveSessionRoot(db, s.ID); err != nil {
				return err
			}
		}

		return l.ledger.MarkTx(db, path, "session", StatusProcessed, "", mtime)
	})
}

func (l *Loader) ingestMessage(path string, data []byte, mtime float64) error {
	var m messageFile
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	if m.ID == "" {
		return fmt.Errorf("message file missing id")
	}

	modelID := m.ModelID
	if modelID == "" {
		modelID = m.Model.ModelID
	}
	providerID := m.ProviderID
	if providerID == "" {
		providerID = m.Model.ProviderID
	}

	return l.st.WriteTx(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT OR REPLACE INTO messages (
				id, session_id, parent_id, role, agent, model_id, provider_id,
				mode, cost, finish_reason, working_dir,
				tokens_input, tokens_output, tokens_reasoning,
				tokens_cache_read, tokens_cache_write, created_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, nullable(m.SessionID), nullable(m.ParentID), nullable(m.Role),
			nullable(m.Agent), nullable(modelID), nullable(providerID),
			nullable(m.Mode), m.Cost, nullable(m.Finish), nullable(m.Path.Cwd),
			m.Tokens.Input, m.Tokens.Output, m.Tokens.Reasoning,
			m.Tokens.Cache.Read, m.Tokens.Cache.Write,
			msToTime(m.Time.Created), msToTime(m.Time.Completed))
		if err != nil {
			return fmt.Errorf("message upsert failed: %w", err)
		}

		return l.ledger.MarkTx(db, path, "message", StatusProcessed, "", mtime)
	})
}

func (l *Loader) ingestPart(path string, data []byte, mtime float64) error {
	var p partFile
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	if p.ID == "" {
		return fmt.Errorf("part file missing id")
	}

	var arguments interface{}
	if len(p.State.Input) > 0 {
		arguments = string(p.State.Input)
	}

	return l.st.WriteTx(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT OR REPLACE INTO parts (
				id, session_id, message_id, part_type, content, tool_name,
				tool_status, call_id, created_at, ended_at, duration_ms,
				arguments, error_message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		`, p.ID, nullable(p.SessionID), nullable(p.MessageID), nullable(p.Type),
			nullable(p.Text), nullable(p.Tool), nullable(p.State.Status),
			nullable(p.CallID), msToTime(p.start()), msToTime(p.end()),
			p.durationMS(), arguments)
		if err != nil {
			return fmt.Errorf("part upsert failed: %w", err)
		}

		// Derived rows ride in the same write section as the part itself.
		switch {
		case p.Tool == "task" && (p.State.Status == "completed" || p.State.Status == "error"):
			if err := l.deriver.DerivePart(db, p.ID, l.estimateTaskTokens(&p)); err != nil {
				return err
			}
		case p.Tool == "skill" && p.MessageID != "":
			if err := l.deriver.DerivePartSkill(db, p.MessageID); err != nil {
				return err
			}
		}

		switch p.Type {
		case "step-start", "step-finish":
			if err := upsertStepEvent(db, &p); err != nil {
				return err
			}
		case "patch":
			if err := upsertPatch(db, &p); err != nil {
				return err
			}
		}

		return l.ledger.MarkTx(db, path, "part", StatusProcessed, "", mtime)
	})
}

// estimateTaskTokens estimates the input token count of a delegation prompt.
// The runtime doesn't report per-delegation tokens, so a tiktoken estimate
// of the prompt text fills tokens_in on the del_* trace.
func (l *Loader) estimateTaskTokens(p *partFile) int64 {
	if len(p.State.Input) == 0 {
		return 0
	}
	var in taskInput
	if err := json.Unmarshal(p.State.Input, &in); err != nil {
		return 0
	}
	text := in.Prompt
	if text == "" {
		text = in.Description
	}
	if text == "" {
		return 0
	}
	return int64(l.estimator.Count(text))
}

func upsertStepEvent(db *sql.DB, p *partFile) error {
	var tokensIn, tokensOut interface{}
	if p.Type == "step-finish" {
		tokensIn = p.Tokens.Input
		tokensOut = p.Tokens.Output
	}
	_, err := db.Exec(`
		INSERT OR REPLACE INTO step_events (
			id, session_id, message_id, kind, created_at, tokens_input, tokens_output
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, nullable(p.SessionID), nullable(p.MessageID), p.Type,
		msToTime(p.Time.Start), tokensIn, tokensOut)
	if err != nil {
		return fmt.Errorf("step event upsert failed: %w", err)
	}
	return nil
}

func upsertPatch(db *sql.DB, p *partFile) error {
	var files interface{}
	if len(p.Files) > 0 {
		encoded, err := json.Marshal(p.Files)
		if err != nil {
			return fmt.Errorf("patch files encode failed: %w", err)
		}
		files = string(encoded)
	}
	_, err := db.Exec(`
		INSERT OR REPLACE INTO patches (
			id, session_id, git_hash, files, created_at
		) VALUES (?, ?, ?, ?, ?)
	`, p.ID, nullable(p.SessionID), nullable(p.Hash), files, msToTime(p.Time.Start))
	if err != nil {
		return fmt.Errorf("patch upsert failed: %w", err)
	}
	return nil
}
