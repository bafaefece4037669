package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DYAI2025/kanban-orchestrator/internal/meta"
)

const maxSummaryChars = meta.MaxResultSummary / 4 // 500 chars per spec 4.K

// ArchiveOutcome is the persisted record of one agent run, written as
// results/<taskId>/meta.json.
type ArchiveOutcome struct {
	Success     bool      `json:"success"`
	ExitCode    int       `json:"exitCode"`
	DurationMs  int64     `json:"durationMs"`
	TimedOut    bool      `json:"timedOut"`
	CompletedAt time.Time `json:"completedAt"`
}

// Archiver writes the per-run results directory.
type Archiver struct {
	resultsRoot string
}

// NewArchiver roots archived results under root (spec: "results/<taskId>/").
func NewArchiver(root string) *Archiver {
	return &Archiver{resultsRoot: root}
}

// Archive writes agent.log, RESULT.md (copied from the workspace or
// synthesized from stdout), and meta.json, and returns a summary capped
// at 500 characters for embedding in the task's agent-meta.
func (a *Archiver) Archive(taskID, workDir string, result *SupervisorResult) (resultPath string, summary string, err error) {
	dir := filepath.Join(a.resultsRoot, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("archiver: mkdir %s: %w", dir, err)
	}

	log := fmt.Sprintf("=== stdout ===\n%s\n\n=== stderr ===\n%s\n", result.Stdout, result.Stderr)
	if err := os.WriteFile(filepath.Join(dir, "agent.log"), []byte(log), 0o644); err != nil {
		return "", "", fmt.Errorf("archiver: write agent.log: %w", err)
	}

	resultMD := readWorkspaceResult(workDir)
	if resultMD == "" {
		resultMD = synthesizeResultMD(result.Stdout)
	}
	if err := os.WriteFile(filepath.Join(dir, "RESULT.md"), []byte(resultMD), 0o644); err != nil {
		return "", "", fmt.Errorf("archiver: write RESULT.md: %w", err)
	}

	outcome := ArchiveOutcome{
		Success:     result.Success,
		ExitCode:    result.ExitCode,
		DurationMs:  result.DurationMs,
		TimedOut:    result.TimedOut,
		CompletedAt: time.Now(),
	}
	metaBytes, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("archiver: marshal meta.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), metaBytes, 0o644); err != nil {
		return "", "", fmt.Errorf("archiver: write meta.json: %w", err)
	}

	return dir, meta.ResultSummary(truncateChars(resultMD, maxSummaryChars)), nil
}

func readWorkspaceResult(workDir string) string {
	data, err := os.ReadFile(filepath.Join(workDir, "RESULT.md"))
	if err != nil {
		return ""
	}
	return string(data)
}

// synthesizeResultMD builds a RESULT.md from the last ~20 lines of
// stdout when the agent left none, capped at 500 characters.
func synthesizeResultMD(stdout string) string {
	lines := strings.Split(strings.TrimRight(stdout, "\n"), "\n")
	if len(lines) > 20 {
		lines = lines[len(lines)-20:]
	}
	return truncateChars(strings.Join(lines, "\n"), maxSummaryChars)
}

func truncateChars(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
