// openlens-seed writes a synthetic session/message/part storage tree in the
// runtime's wire format, for demos and manual pipeline testing.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	. "github.com/roelfdiedericks/openlens/internal/logging"
)

type CLI struct {
	Out      string `help:"Output directory for the storage tree" arg:"" type:"path"`
	Sessions int    `help:"Number of root sessions" default:"20"`
	Days     int    `help:"Spread activity over the last N days" default:"7"`
	Seed     int64  `help:"Random seed (0 = time-based)"`
}

var agents = []string{"build", "executor", "tester", "quality", "roadmap"}
var tools = []string{"read", "edit", "bash", "grep", "glob", "task", "skill"}
var models = [][2]string{
	{"claude-sonnet-4-5", "anthropic"},
	{"claude-opus-4-1", "anthropic"},
	{"gpt-5", "openai"},
}

type generator struct {
	rng *rand.Rand
	out string
	now time.Time
}

func (g *generator) writeJSON(parts []string, v interface{}) error {
	path := filepath.Join(append([]string{g.out}, parts...)...)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// session emits one session plus its messages and parts, returning the
// total file count. Each tool part is a task part (delegating to a child
// session) with probability 1/7, and only below depth 2.
func (g *generator) session(projectID, parentID string, created time.Time, depth int) (int, error) {
	sessionID := "ses_" + uuid.NewString()[:8]
	written := 0

	updated := created.Add(time.Duration(10+g.rng.Intn(50)) * time.Minute)
	sess := map[string]interface{}{
		"id":        sessionID,
		"projectID": projectID,
		"directory": fmt.Sprintf("/home/dev/%s", projectID),
		"title":     fmt.Sprintf("Session %s", sessionID),
		"version":   "1.0.0",
		"summary": map[string]int{
			"additions": g.rng.Intn(400),
			"deletions": g.rng.Intn(200),
			"files":     g.rng.Intn(12),
		},
		"time": map[string]int64{
			"created": created.UnixMilli(),
			"updated": updated.UnixMilli(),
		},
	}
	if parentID != "" {
		sess["parentID"] = parentID
	}
	if err := g.writeJSON([]string{"session", projectID, sessionID + ".json"}, sess); err != nil {
		return written, err
	}
	written++

	msgCount := 4 + g.rng.Intn(8)
	msgTime := created
	for i := 0; i < msgCount; i++ {
		messageID := "msg_" + uuid.NewString()[:8]
		msgTime = msgTime.Add(time.Duration(20+g.rng.Intn(120)) * time.Second)

		role := "assistant"
		agent := agents[g.rng.Intn(len(agents))]
		if i%2 == 0 {
			role = "user"
			agent = ""
		}

		model := models[g.rng.Intn(len(models))]
		msg := map[string]interface{}{
			"id":        messageID,
			"sessionID": sessionID,
			"role":      role,
			"mode":      "build",
			"cost":      g.rng.Float64() * 0.2,
			"finish":    "stop",
			"modelID":   model[0],
			"providerID": model[1],
			"path":      map[string]string{"cwd": fmt.Sprintf("/home/dev/%s", projectID)},
			"tokens": map[string]interface{}{
				"input":     g.rng.Intn(8000),
				"output":    g.rng.Intn(3000),
				"reasoning": g.rng.Intn(1000),
				"cache": map[string]int{
					"read":  g.rng.Intn(20000),
					"write": g.rng.Intn(4000),
				},
			},
			"time": map[string]int64{
				"created":   msgTime.UnixMilli(),
				"completed": msgTime.Add(15 * time.Second).UnixMilli(),
			},
		}
		if agent != "" {
			msg["agent"] = agent
		}
		if err := g.writeJSON([]string{"message", sessionID, messageID + ".json"}, msg); err != nil {
			return written, err
		}
		written++

		if role != "assistant" {
			continue
		}

		// A few tool parts per assistant message
		partCount := 1 + g.rng.Intn(3)
		for j := 0; j < partCount; j++ {
			n, err := g.part(projectID, sessionID, messageID, msgTime, depth)
			if err != nil {
				return written, err
			}
			written += n
		}
	}

	return written, nil
}

// part emits one part file; task parts recursively create a child session.
func (g *generator) part(projectID, sessionID, messageID string, at time.Time, depth int) (int, error) {
	partID := "prt_" + uuid.NewString()[:8]
	written := 0

	tool := tools[g.rng.Intn(len(tools))]
	if depth >= 2 && tool == "task" {
		tool = "bash" // cap delegation depth
	}

	start := at.Add(time.Duration(g.rng.Intn(10)) * time.Second)
	end := start.Add(time.Duration(200+g.rng.Intn(5000)) * time.Millisecond)

	status := "completed"
	if g.rng.Intn(20) == 0 {
		status = "error"
	}

	input := map[string]interface{}{"command": "true"}
	if tool == "task" {
		childCreated := start.Add(time.Second)
		childCount, err := g.session(projectID, sessionID, childCreated, depth+1)
		if err != nil {
			return written, err
		}
		written += childCount

		input = map[string]interface{}{
			"subagent_type": agents[g.rng.Intn(len(agents))],
			"prompt":        "Carry out the delegated work and report back.",
		}
	} else if tool == "skill" {
		input = map[string]interface{}{"name": []string{"review", "deploy", "docs"}[g.rng.Intn(3)]}
	}

	part := map[string]interface{}{
		"id":        partID,
		"sessionID": sessionID,
		"messageID": messageID,
		"type":      "tool",
		"tool":      tool,
		"callID":    "call_" + uuid.NewString()[:8],
		"state": map[string]interface{}{
			"status": status,
			"input":  input,
			"time": map[string]int64{
				"start": start.UnixMilli(),
				"end":   end.UnixMilli(),
			},
		},
	}
	if err := g.writeJSON([]string{"part", sessionID, partID + ".json"}, part); err != nil {
		return written, err
	}
	written++

	return written, nil
}

func (c *CLI) Run() error {
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &generator{
		rng: rand.New(rand.NewSource(seed)),
		out: c.Out,
		now: time.Now(),
	}

	total := 0
	for i := 0; i < c.Sessions; i++ {
		projectID := fmt.Sprintf("proj-%d", i%4)
		created := g.now.Add(-time.Duration(g.rng.Intn(c.Days*24*60)) * time.Minute)
		n, err := g.session(projectID, "", created, 0)
		if err != nil {
			return err
		}
		total += n
	}

	L_info("seed: wrote storage tree", "dir", c.Out, "files", total, "seed", seed)
	return nil
}

func main() {
	Init(nil)
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("openlens-seed"),
		kong.Description("Generate a synthetic agent storage tree for openlens"),
	)
	kctx.FatalIfErrorf(cli.Run())
}
