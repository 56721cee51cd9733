package indexer

import (
	"encoding/json"
	"time"
)

// Wire structs for the runtime's JSON files. Timestamps on the wire are
// integer milliseconds since epoch; zero means absent.

type sessionFile struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID"`
	Directory string `json:"directory"`
	Title     string `json:"title"`
	ParentID  string `json:"parentID"`
	Version   string `json:"version"`
	Summary   struct {
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
		Files     int `json:"files"`
	} `json:"summary"`
	Time struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
}

type messageFile struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"sessionID"`
	ParentID   string  `json:"parentID"`
	Role       string  `json:"role"`
	Agent      string  `json:"agent"`
	ModelID    string  `json:"modelID"`
	ProviderID string  `json:"providerID"`
	Mode       string  `json:"mode"`
	Cost       float64 `json:"cost"`
	Finish     string  `json:"finish"`
	Model      struct {
		ModelID    string `json:"modelID"`
		ProviderID string `json:"providerID"`
	} `json:"model"`
	Path struct {
		Cwd string `json:"cwd"`
	} `json:"path"`
	Tokens struct {
		Input     int64 `json:"input"`
		Output    int64 `json:"output"`
		Reasoning int64 `json:"reasoning"`
		Cache     struct {
			Read  int64 `json:"read"`
			Write int64 `json:"write"`
		} `json:"cache"`
	} `json:"tokens"`
	Time struct {
		Created   int64 `json:"created"`
		Completed int64 `json:"completed"`
	} `json:"time"`
}

type partTime struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type partFile struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Tool      string `json:"tool"`
	CallID    string `json:"callID"`
	State     struct {
		Status string          `json:"status"`
		Input  json.RawMessage `json:"input"`
		Time   partTime        `json:"time"`
	} `json:"state"`
	Time partTime `json:"time"`
	// Patch parts
	Hash  string   `json:"hash"`
	Files []string `json:"files"`
	// Step-finish parts carry a token snapshot
	Tokens struct {
		Input  int64 `json:"input"`
		Output int64 `json:"output"`
	} `json:"tokens"`
}

// taskInput is the state.input payload of a task-tool part.
type taskInput struct {
	SubagentType string `json:"subagent_type"`
	Prompt       string `json:"prompt"`
	Description  string `json:"description"`
	SessionID    string `json:"session_id"`
}

// start returns the part's effective start time: tool parts keep it under
// state.time, everything else at the top level.
func (p *partFile) start() int64 {
	if p.State.Time.Start != 0 {
		return p.State.Time.Start
	}
	return p.Time.Start
}

func (p *partFile) end() int64 {
	if p.State.Time.End != 0 {
		return p.State.Time.End
	}
	return p.Time.End
}

// durationMS returns end-start when both are present, nil otherwise.
func (p *partFile) durationMS() interface{} {
	start, end := p.start(), p.end()
	if start != 0 && end != 0 {
		return end - start
	}
	return nil
}

// msToTime converts wire milliseconds to a timestamp, nil when absent.
func msToTime(ms int64) interface{} {
	if ms == 0 {
		return nil
	}
	return time.UnixMilli(ms).UTC()
}

// nullable returns nil for the empty string so absent JSON fields land as
// SQL NULL instead of "".
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
