package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Indexer.ReconcilerIntervalSeconds != 30 {
		t.Errorf("expected default interval 30, got %d", cfg.Indexer.ReconcilerIntervalSeconds)
	}
	if cfg.Indexer.ReconcilerMaxFilesPerScan != 10000 {
		t.Errorf("expected default cap 10000, got %d", cfg.Indexer.ReconcilerMaxFilesPerScan)
	}
	if cfg.Indexer.WatcherDebounceMs != 250 {
		t.Errorf("expected default debounce 250, got %d", cfg.Indexer.WatcherDebounceMs)
	}
	if cfg.Indexer.MaxRefreshAgeHours != 24 {
		t.Errorf("expected default refresh age 24, got %d", cfg.Indexer.MaxRefreshAgeHours)
	}
	if cfg.Database.BulkMemoryLimit != "4GB" {
		t.Errorf("expected default memory limit 4GB, got %q", cfg.Database.BulkMemoryLimit)
	}
}

func TestValidateRequiresStoragePath(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without storage path")
	}

	cfg.StoragePath = "/does/not/exist"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, []byte("x"), 0640); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg.StoragePath = file
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-directory")
	}

	dir := t.TempDir()
	cfg.StoragePath = dir
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid directory to pass, got %v", err)
	}
	if !filepath.IsAbs(cfg.StoragePath) {
		t.Errorf("expected absolutized path, got %q", cfg.StoragePath)
	}
}

func TestAtomicWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "openlens.json")

	cfg := DefaultConfig()
	cfg.StoragePath = "/srv/opencode/storage"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected config content")
	}
	var decoded Config
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.StoragePath != cfg.StoragePath {
		t.Errorf("expected storage path %q after round trip, got %q", cfg.StoragePath, decoded.StoragePath)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the config file, got %d entries", len(entries))
	}
}
