// Package paths provides centralized path resolution for openlens.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// BaseDir returns the openlens base directory (~/.openlens).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".openlens"), nil
}

// DataPath returns a path within the openlens data directory (~/.openlens/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active openlens.json path.
// Priority: ./openlens.json (current dir) > ~/.openlens/openlens.json
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath() (string, error) {
	localPath := "openlens.json"
	if _, err := os.Stat(localPath); err == nil {
		absPath, err := filepath.Abs(localPath)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return absPath, nil
	}

	homePath, err := DataPath("openlens.json")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", nil
}

// DefaultDatabasePath returns the default analytics database location
// (~/.openlens/analytics.duckdb).
func DefaultDatabasePath() (string, error) {
	return DataPath("analytics.duckdb")
}

// EnsureBaseDir creates the openlens base directory if it does not exist.
func EnsureBaseDir() error {
	base, err := BaseDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(base, 0750); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	return nil
}
