package indexer

import (
	"sync"
	"time"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/store"
)

// Config carries the indexer knobs from the host configuration.
type Config struct {
	StoragePath        string
	BulkMemoryLimit    string
	ReconcilerInterval time.Duration
	ReconcilerMaxFiles int
	WatcherDebounce    time.Duration
}

// Coordinator drives the sync state machine: bulk load with a frozen
// cutoff, queue drain, then live mode with watcher and reconciler running.
// Crash-safe: on restart the persisted phase decides where to resume, and
// the preserved T0 keeps the bulk/live split stable.
type Coordinator struct {
	st         *store.Store
	syncState  *SyncState
	ledger     *Ledger
	loader     *Loader
	bulk       *BulkLoader
	watcher    *Watcher
	reconciler *Reconciler

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewCoordinator wires up the pipeline components. The storage path is
// validated here (fatal on failure, per the error policy).
func NewCoordinator(st *store.Store, cfg Config) (*Coordinator, error) {
	syncState, err := NewSyncState(st)
	if err != nil {
		return nil, err
	}

	ledger := NewLedger(st)
	loader := NewLoader(st, ledger, syncState)

	bulk, err := NewBulkLoader(st, ledger, syncState, cfg.StoragePath, cfg.BulkMemoryLimit)
	if err != nil {
		return nil, err
	}

	watcher := NewWatcher(bulk.storagePath, syncState, ledger, loader, cfg.WatcherDebounce)

	reconciler := NewReconciler(bulk.storagePath, st, ReconcilerConfig{
		Interval:        cfg.ReconcilerInterval,
		MaxFilesPerScan: cfg.ReconcilerMaxFiles,
	}, func(files []fileEvent) {
		for _, f := range files {
			loader.Enqueue(f.Path, f.FileType)
		}
	})

	return &Coordinator{
		st:         st,
		syncState:  syncState,
		ledger:     ledger,
		loader:     loader,
		bulk:       bulk,
		watcher:    watcher,
		reconciler: reconciler,
	}, nil
}

// Start runs the pipeline to live mode: workers and watcher first (so no
// event after T0 is lost), then bulk (fresh or resumed), queue drain, and
// finally the reconciler. Blocks until phase REALTIME is reached.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.loader.Start()
	if err := c.watcher.Start(); err != nil {
		return err
	}

	phase := c.syncState.Phase()
	switch {
	case phase == PhaseInit:
		t0 := float64(time.Now().UnixMilli()) / 1000.0
		logging.L_info("coordinator: starting bulk load", "t0", t0)
		if _, err := c.bulk.LoadAll(t0); err != nil {
			return err
		}
	case phase.Ordinal() >= PhaseBulkSessions.Ordinal() && phase.Ordinal() <= PhaseBulkParts.Ordinal():
		t0 := c.syncState.T0()
		logging.L_info("coordinator: resuming bulk load", "phase", phase, "t0", t0)
		if _, err := c.bulk.Run(phase, t0); err != nil {
			return err
		}
	default:
		logging.L_info("coordinator: bulk already complete", "phase", phase)
	}

	if err := c.syncState.SetPhase(PhaseProcessingQueue); err != nil {
		return err
	}
	c.drainQueue()

	if err := c.syncState.SetPhase(PhaseRealtime); err != nil {
		return err
	}
	if err := c.reconciler.Start(); err != nil {
		return err
	}

	logging.L_info("coordinator: realtime mode reached")
	return nil
}

// drainQueue waits for the backlog accumulated during bulk to be ingested.
func (c *Coordinator) drainQueue() {
	for {
		size := c.loader.QueueSize()
		if size == 0 {
			return
		}
		c.syncState.SetQueueSize(size)
		logging.L_debug("coordinator: draining queue", "size", size)
		time.Sleep(100 * time.Millisecond)
	}
}

// Stop shuts the pipeline down: reconciler, watcher, workers, then a final
// checkpoint. Idempotent; partial work is preserved because every write is
// idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.reconciler.Stop()
	c.watcher.Stop()
	c.loader.Stop()

	if err := c.syncState.Checkpoint(); err != nil {
		logging.L_warn("coordinator: final checkpoint failed", "error", err)
	}
	logging.L_info("coordinator: stopped")
}

// Status returns the current sync status with the live queue size.
func (c *Coordinator) Status() SyncStatus {
	status := c.syncState.Status()
	status.QueueSize = c.loader.QueueSize()
	return status
}

// SyncState exposes the state machine (for the query surface's sync_status
// and for tests).
func (c *Coordinator) SyncState() *SyncState {
	return c.syncState
}

// Ledger exposes the file-processing ledger.
func (c *Coordinator) Ledger() *Ledger {
	return c.ledger
}

// Reconciler exposes the reconciler (for manual scans).
func (c *Coordinator) Reconciler() *Reconciler {
	return c.reconciler
}

// Reset clears the sync state and ledger so the next Start performs a fresh
// bulk load. Data tables are left alone; use the store's ClearData for
// those.
func (c *Coordinator) Reset() error {
	if err := c.syncState.Reset(); err != nil {
		return err
	}
	return c.ledger.Clear()
}
