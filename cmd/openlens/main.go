package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/itchyny/gojq"

	"github.com/roelfdiedericks/openlens/internal/analytics"
	"github.com/roelfdiedericks/openlens/internal/config"
	"github.com/roelfdiedericks/openlens/internal/indexer"
	. "github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/store"
)

// version is set by goreleaser via ldflags: -X main.version=...
// Default "dev" indicates a local/non-release build
var version = "dev"

// Context carries the parsed CLI flags into command Run methods
type Context struct {
	cfg *config.Config
}

type CLI struct {
	Debug   bool   `help:"Enable debug logging" short:"d"`
	Trace   bool   `help:"Enable trace logging" short:"t"`
	Storage string `help:"Storage tree root (overrides config)" short:"s" type:"path"`
	DB      string `help:"Database file path (overrides config)" type:"path"`

	Run     RunCmd     `cmd:"" help:"Run the ingestion pipeline (foreground)"`
	Status  StatusCmd  `cmd:"" help:"Show sync status"`
	Stats   StatsCmd   `cmd:"" help:"Print period statistics as JSON"`
	Query   QueryCmd   `cmd:"" help:"Filter period statistics through a jq expression"`
	Global  GlobalCmd  `cmd:"" help:"Print global statistics as JSON"`
	Clear   ClearCmd   `cmd:"" help:"Delete all ingested data"`
	Version VersionCmd `cmd:"" help:"Show version"`
}

// openStore opens the analytics database from the effective configuration.
func openStore(ctx *Context) (*store.Store, error) {
	return store.Open(ctx.cfg.Database.Path)
}

// RunCmd runs the pipeline until interrupted.
type RunCmd struct{}

func (r *RunCmd) Run(ctx *Context) error {
	if err := ctx.cfg.Validate(); err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	coord, err := indexer.NewCoordinator(st, indexer.Config{
		StoragePath:        ctx.cfg.StoragePath,
		BulkMemoryLimit:    ctx.cfg.Database.BulkMemoryLimit,
		ReconcilerInterval: ctx.cfg.Indexer.ReconcilerInterval(),
		ReconcilerMaxFiles: ctx.cfg.Indexer.ReconcilerMaxFilesPerScan,
		WatcherDebounce:    ctx.cfg.Indexer.WatcherDebounce(),
	})
	if err != nil {
		return err
	}

	if err := coord.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	L_info("shutting down")
	coord.Stop()
	return nil
}

// StatusCmd prints the persisted sync status plus data freshness.
type StatusCmd struct{}

func (s *StatusCmd) Run(ctx *Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	status, err := analytics.New(st).GetSyncStatus()
	if err != nil {
		return err
	}

	return printJSON(struct {
		*analytics.SyncStatusRow
		NeedsRefresh bool `json:"needs_refresh"`
	}{
		SyncStatusRow: status,
		NeedsRefresh:  st.NeedsRefresh(ctx.cfg.Indexer.MaxRefreshAge()),
	})
}

// StatsCmd prints the PeriodStats aggregate.
type StatsCmd struct {
	Days int `help:"Window size in days" default:"7"`
}

func (s *StatsCmd) Run(ctx *Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := analytics.New(st).GetPeriodStats(s.Days)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

// QueryCmd filters the PeriodStats JSON through a jq expression, e.g.
// openlens query '.tokens.input' or openlens query '.agents[].agent'.
type QueryCmd struct {
	Days int    `help:"Window size in days" default:"7"`
	Expr string `arg:"" help:"jq expression"`
}

func (q *QueryCmd) Run(ctx *Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := analytics.New(st).GetPeriodStats(q.Days)
	if err != nil {
		return err
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	encoded, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	var input interface{}
	if err := json.Unmarshal(encoded, &input); err != nil {
		return err
	}

	query, err := gojq.Parse(q.Expr)
	if err != nil {
		return fmt.Errorf("invalid jq expression: %w", err)
	}

	iter := query.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return err
		}
		if err := printJSON(v); err != nil {
			return err
		}
	}
	return nil
}

// GlobalCmd prints the global aggregate.
type GlobalCmd struct {
	Start string `help:"Range start (RFC3339); applied only together with --end"`
	End   string `help:"Range end (RFC3339); applied only together with --start"`
}

func (g *GlobalCmd) Run(ctx *Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var start, end *time.Time
	if g.Start != "" && g.End != "" {
		s, err := time.Parse(time.RFC3339, g.Start)
		if err != nil {
			return fmt.Errorf("invalid start: %w", err)
		}
		e, err := time.Parse(time.RFC3339, g.End)
		if err != nil {
			return fmt.Errorf("invalid end: %w", err)
		}
		start, end = &s, &e
	}

	return printJSON(analytics.New(st).GetGlobalStats(start, end))
}

// ClearCmd wipes the data tables, ledger and sync state.
type ClearCmd struct {
	Yes bool `help:"Skip confirmation" short:"y"`
}

func (c *ClearCmd) Run(ctx *Context) error {
	if !c.Yes {
		fmt.Print("This deletes all ingested data. Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			return nil
		}
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ClearData(); err != nil {
		return err
	}

	syncState, err := indexer.NewSyncState(st)
	if err != nil {
		return err
	}
	if err := syncState.Reset(); err != nil {
		return err
	}
	if err := indexer.NewLedger(st).Clear(); err != nil {
		return err
	}

	fmt.Println("cleared")
	return nil
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (v *VersionCmd) Run(ctx *Context) error {
	fmt.Printf("openlens %s\n", version)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("openlens"),
		kong.Description("Observability pipeline for AI coding-agent session data"),
		kong.UsageOnError(),
	)

	logCfg := DefaultConfig()
	switch {
	case cli.Trace:
		logCfg.Level = LevelTrace
	case cli.Debug:
		logCfg.Level = LevelDebug
	}

	loadResult, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg := loadResult.Config

	if !cli.Trace && !cli.Debug {
		logCfg.Level = ParseLevel(cfg.LogLevel)
	}
	Init(logCfg)

	if cli.Storage != "" {
		cfg.StoragePath = cli.Storage
	}
	if cli.DB != "" {
		cfg.Database.Path = cli.DB
	}

	err = kctx.Run(&Context{cfg: cfg})
	kctx.FatalIfErrorf(err)
}
