package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArchiveCopiesWorkspaceResultMD(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "RESULT.md"), []byte("done: added OAuth"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a := NewArchiver(t.TempDir())

	resultPath, summary, err := a.Archive("task-a", workDir, &SupervisorResult{Success: true, ExitCode: 0, Stdout: "log line"})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if summary != "done: added OAuth" {
		t.Fatalf("expected summary from workspace RESULT.md, got %q", summary)
	}
	content, err := os.ReadFile(filepath.Join(resultPath, "RESULT.md"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "done: added OAuth" {
		t.Fatalf("expected copied RESULT.md, got %q", content)
	}
	if _, err := os.Stat(filepath.Join(resultPath, "agent.log")); err != nil {
		t.Fatalf("expected agent.log to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(resultPath, "meta.json")); err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
}

func TestArchiveSynthesizesResultMDWhenAbsent(t *testing.T) {
	workDir := t.TempDir()
	a := NewArchiver(t.TempDir())

	stdout := strings.Repeat("line\n", 30)
	_, summary, err := a.Archive("task-b", workDir, &SupervisorResult{Success: false, ExitCode: 1, Stdout: stdout})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if summary == "" {
		t.Fatal("expected synthesized summary")
	}
}

func TestArchiveTruncatesSummaryAt500Chars(t *testing.T) {
	workDir := t.TempDir()
	long := strings.Repeat("a", 1000)
	if err := os.WriteFile(filepath.Join(workDir, "RESULT.md"), []byte(long), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a := NewArchiver(t.TempDir())

	_, summary, err := a.Archive("task-c", workDir, &SupervisorResult{Success: true})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len([]rune(summary)) != maxSummaryChars {
		t.Fatalf("expected summary capped at %d chars, got %d", maxSummaryChars, len([]rune(summary)))
	}
}
