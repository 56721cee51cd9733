// Package config loads and validates the openlens configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"

	"github.com/roelfdiedericks/openlens/internal/logging"
	"github.com/roelfdiedericks/openlens/internal/paths"
)

// LoadResult contains the loaded config and metadata about where it came from
type LoadResult struct {
	Config     *Config
	SourcePath string // Path to openlens.json that was found, "" if defaults only
}

// Config represents the merged openlens configuration
type Config struct {
	StoragePath string        `json:"storagePath"` // Root of the agent runtime's storage tree (required)
	Database    DatabaseConfig `json:"database"`
	Indexer     IndexerConfig  `json:"indexer"`
	LogLevel    string        `json:"logLevel"` // fatal|error|warn|info|debug|trace
}

// DatabaseConfig configures the embedded analytical store
type DatabaseConfig struct {
	Path            string `json:"path"`            // Database file path (default: ~/.openlens/analytics.duckdb)
	BulkMemoryLimit string `json:"bulkMemoryLimit"` // DuckDB memory_limit during bulk load (default: "4GB")
}

// IndexerConfig configures the hybrid indexer
type IndexerConfig struct {
	ReconcilerIntervalSeconds int `json:"reconcilerIntervalSeconds"` // Seconds between reconciler scans (default: 30)
	ReconcilerMaxFilesPerScan int `json:"reconcilerMaxFilesPerScan"` // Safety cap per scan (default: 10000)
	WatcherDebounceMs         int `json:"watcherDebounceMs"`         // Event debounce window (default: 250)
	MaxRefreshAgeHours        int `json:"maxRefreshAgeHours"`        // Staleness threshold for needs_refresh (default: 24)
}

// DefaultConfig returns the built-in defaults. StoragePath has no default;
// it must come from the config file or the command line.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			BulkMemoryLimit: "4GB",
		},
		Indexer: IndexerConfig{
			ReconcilerIntervalSeconds: 30,
			ReconcilerMaxFilesPerScan: 10000,
			WatcherDebounceMs:         250,
			MaxRefreshAgeHours:        24,
		},
		LogLevel: "info",
	}
}

// ReconcilerInterval returns the reconciler scan interval as a duration.
func (c *IndexerConfig) ReconcilerInterval() time.Duration {
	return time.Duration(c.ReconcilerIntervalSeconds) * time.Second
}

// WatcherDebounce returns the watcher debounce window as a duration.
func (c *IndexerConfig) WatcherDebounce() time.Duration {
	return time.Duration(c.WatcherDebounceMs) * time.Millisecond
}

// MaxRefreshAge returns the needs_refresh threshold as a duration.
func (c *IndexerConfig) MaxRefreshAge() time.Duration {
	return time.Duration(c.MaxRefreshAgeHours) * time.Hour
}

// Load reads openlens.json (if present) and merges it over the defaults; it
// does not validate the result (see Validate). A missing config file is not
// an error; the caller may still supply storagePath on the command line.
func Load() (*LoadResult, error) {
	cfg := DefaultConfig()

	sourcePath, err := paths.ConfigPath()
	if err != nil {
		return nil, err
	}

	if sourcePath != "" {
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", sourcePath, err)
		}

		fileCfg := &Config{}
		if err := json.Unmarshal(data, fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", sourcePath, err)
		}

		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}

		logging.L_debug("config: loaded", "path", sourcePath)
	}

	if cfg.Database.Path == "" {
		dbPath, err := paths.DefaultDatabasePath()
		if err != nil {
			return nil, err
		}
		cfg.Database.Path = dbPath
	}

	return &LoadResult{Config: cfg, SourcePath: sourcePath}, nil
}

// Validate checks the configuration for fatal problems. StoragePath must
// exist and be a directory; it is resolved to an absolute path in place.
func (c *Config) Validate() error {
	if c.StoragePath == "" {
		return fmt.Errorf("storagePath is required (set it in openlens.json or pass --storage)")
	}

	abs, err := filepath.Abs(c.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to resolve storage path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("storage path does not exist: %s", abs)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path is not a directory: %s", abs)
	}

	c.StoragePath = abs
	return nil
}

// Save writes the configuration atomically to path.
func (c *Config) Save(path string) error {
	return AtomicWriteJSON(path, c, 0600)
}
