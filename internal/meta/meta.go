// Package meta implements the embedded agent-meta protocol: orchestration
// state carried inside a task's free-text description, separated by a
// sentinel. The board CRUD has no side-channel for agent state (spec 9,
// Design Note "Embedded meta-in-description"), so strip/embed is the sole
// mutator permitted to touch it.
package meta

import (
	"encoding/json"
	"strings"
	"time"
)

// Sentinel delimits the user-visible description from the embedded
// AgentMeta JSON block.
const Sentinel = "---agent-meta---"

// Status is the orchestration state of a task under the Task Runner.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusReview  Status = "review"
	StatusFailed  Status = "failed"
)

// AgentMeta is the structured state the Task Runner owns. It must never
// be written by any other component (spec 3, Lifecycles).
type AgentMeta struct {
	Agent         *string    `json:"agent"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	ResultPath    string     `json:"resultPath,omitempty"`
	LastError     *string    `json:"lastError"`
	ResultSummary string     `json:"resultSummary,omitempty"`
}

// MaxResultSummary is the cap on AgentMeta.ResultSummary (spec 3).
const MaxResultSummary = 2000

// Parse locates the first Sentinel occurrence and JSON-decodes the
// suffix. It returns nil, never an error, on any failure — a task with a
// malformed or absent meta block is simply treated as unrouted.
func Parse(description string) *AgentMeta {
	idx := strings.Index(description, Sentinel)
	if idx == -1 {
		return nil
	}
	raw := strings.TrimSpace(description[idx+len(Sentinel):])
	var m AgentMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return &m
}

// Strip returns the user-visible prefix before the first Sentinel,
// trimmed. Strip is idempotent: Strip(Strip(d)) == Strip(d).
func Strip(description string) string {
	idx := strings.Index(description, Sentinel)
	if idx == -1 {
		return strings.TrimSpace(description)
	}
	return strings.TrimSpace(description[:idx])
}

// Embed appends the Sentinel plus the canonical JSON encoding of m to the
// stripped prefix of description. The result always carries exactly one
// Sentinel occurrence.
func Embed(description string, m AgentMeta) string {
	prefix := Strip(description)
	data, err := json.Marshal(m)
	if err != nil {
		// AgentMeta has no unmarshalable fields; this branch exists only
		// to keep Embed total rather than panicking on a library bug.
		data = []byte(`{}`)
	}
	if prefix == "" {
		return Sentinel + "\n" + string(data)
	}
	return prefix + "\n" + Sentinel + "\n" + string(data)
}

// ResultSummary truncates s to MaxResultSummary characters (spec 3).
func ResultSummary(s string) string {
	r := []rune(s)
	if len(r) <= MaxResultSummary {
		return s
	}
	return string(r[:MaxResultSummary])
}

// IsStale reports whether meta claims a running supervisor that no
// longer exists locally (spec 3 invariant: status=running implies an
// active supervisor; otherwise the task is stale and must reset to
// queued on the next tick).
func IsStale(m *AgentMeta, hasLocalSupervisor bool) bool {
	return m != nil && m.Status == StatusRunning && !hasLocalSupervisor
}
