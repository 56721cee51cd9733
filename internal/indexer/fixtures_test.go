package indexer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roelfdiedericks/openlens/internal/store"
)

// Test fixtures: write wire-format JSON files into a storage tree layout
// (<storage>/<type>/<sub>/<id>.json), the same shape the agent runtime
// produces.

func writeStorageFile(t *testing.T, storage, fileType, sub, id string, v interface{}) string {
	t.Helper()
	dir := filepath.Join(storage, fileType, sub)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func sessionJSON(id, projectID, parentID string, createdMS, updatedMS int64) map[string]interface{} {
	v := map[string]interface{}{
		"id":        id,
		"projectID": projectID,
		"directory": "/x",
		"title":     "t",
		"time":      map[string]int64{"created": createdMS, "updated": updatedMS},
	}
	if parentID != "" {
		v["parentID"] = parentID
	}
	return v
}

func messageJSON(id, sessionID, role, agent string, createdMS int64, tokens map[string]interface{}) map[string]interface{} {
	v := map[string]interface{}{
		"id":        id,
		"sessionID": sessionID,
		"role":      role,
		"modelID":   "claude-sonnet-4-5",
		"providerID": "anthropic",
		"tokens":    tokens,
		"time":      map[string]int64{"created": createdMS, "completed": createdMS + 500},
	}
	if agent != "" {
		v["agent"] = agent
	}
	return v
}

func taskPartJSON(id, sessionID, messageID, status string, startMS, endMS int64, input map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":        id,
		"sessionID": sessionID,
		"messageID": messageID,
		"type":      "tool",
		"tool":      "task",
		"callID":    "call_" + id,
		"state": map[string]interface{}{
			"status": status,
			"input":  input,
			"time":   map[string]int64{"start": startMS, "end": endMS},
		},
	}
}

func mustStat(t *testing.T, path string) os.FileInfo {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	return info
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0640)
}

// setMtime rewinds a file's mtime so it falls on the bulk side of a cutoff.
func setMtime(t *testing.T, path string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}
}

// epochSeconds converts a time to the cutoff representation.
func epochSeconds(at time.Time) float64 {
	return float64(at.UnixMilli()) / 1000.0
}

func countRows(t *testing.T, st *store.Store, query string) int {
	t.Helper()
	var n int
	if err := st.DB().QueryRow(query).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}
