package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DYAI2025/kanban-orchestrator/internal/board"
	"github.com/DYAI2025/kanban-orchestrator/internal/columns"
	"github.com/DYAI2025/kanban-orchestrator/internal/meta"
	"github.com/DYAI2025/kanban-orchestrator/internal/registry"
)

func writeRegistry(t *testing.T, agents string) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	if err := os.WriteFile(path, []byte(agents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	r, err := registry.Load(path)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return r
}

func ample() (int, error) { return 10000, nil }

func bootstrapped(t *testing.T) (*board.MemoryStore, *columns.Cache) {
	t.Helper()
	store := board.NewMemoryStore()
	cache := columns.NewCache()
	if err := columns.Bootstrap(t.Context(), store, cache); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return store, cache
}

func waitUntil(t *testing.T, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTickDispatchesSuccessfulTask(t *testing.T) {
	store, cache := bootstrapped(t)
	queueCol, _ := func() (*board.Column, int) {
		b, _ := store.GetBoard(t.Context())
		return b.ColumnByTitle(board.ColumnQueue)
	}()

	if _, err := store.CreateTask(t.Context(), queueCol.ID, board.Task{Title: "implement login", Description: "add OAuth", Color: 1}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	reg := writeRegistry(t, `[{"id":"claude","cmd":"sh","args":["-c","echo done > RESULT.md"],"keywords":["implement"],"ramMB":1,"enabled":true}]`)
	workspaces := t.TempDir()
	results := t.TempDir()
	l := New(store, reg, cache, ample, Config{WorkspaceDir: workspaces, ResultsDir: results})

	l.tick(t.Context())

	waitUntil(t, func() bool {
		b, _ := store.GetBoard(t.Context())
		col, _ := b.ColumnByTitle(board.ColumnReview)
		return col != nil && len(col.Tasks) == 1
	})

	b, _ := store.GetBoard(t.Context())
	reviewCol, _ := b.ColumnByTitle(board.ColumnReview)
	task := reviewCol.Tasks[0]
	m := meta.Parse(task.Description)
	if m == nil {
		t.Fatal("expected agent meta on reviewed task")
	}
	if m.Status != meta.StatusReview {
		t.Fatalf("expected status review, got %s", m.Status)
	}
	if m.Agent == nil || *m.Agent != "claude" {
		t.Fatalf("expected routed agent claude, got %+v", m.Agent)
	}
	if m.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", m.Attempts)
	}
}

func TestTickRetriesOnFailureUnderMaxAttempts(t *testing.T) {
	store, cache := bootstrapped(t)
	b, _ := store.GetBoard(t.Context())
	queueCol, _ := b.ColumnByTitle(board.ColumnQueue)
	store.CreateTask(t.Context(), queueCol.ID, board.Task{Title: "implement login", Description: "add OAuth", Color: 1})

	reg := writeRegistry(t, `[{"id":"claude","cmd":"sh","args":["-c","exit 1"],"keywords":["implement"],"ramMB":1,"enabled":true}]`)
	l := New(store, reg, cache, ample, Config{WorkspaceDir: t.TempDir(), ResultsDir: t.TempDir()})

	l.tick(t.Context())
	waitUntil(t, func() bool {
		b, _ := store.GetBoard(t.Context())
		col, _ := b.ColumnByTitle(board.ColumnQueue)
		return col != nil && len(col.Tasks) == 1
	})

	b, _ = store.GetBoard(t.Context())
	queueCol, _ = b.ColumnByTitle(board.ColumnQueue)
	m := meta.Parse(queueCol.Tasks[0].Description)
	if m == nil || m.Status != meta.StatusQueued || m.Attempts != 1 {
		t.Fatalf("expected queued with attempts=1, got %+v", m)
	}
}

func TestTickTerminalFailureAtMaxAttempts(t *testing.T) {
	store, cache := bootstrapped(t)
	b, _ := store.GetBoard(t.Context())
	queueCol, _ := b.ColumnByTitle(board.ColumnQueue)

	a := "claude"
	seedMeta := meta.AgentMeta{Agent: &a, Status: meta.StatusQueued, Attempts: 2}
	desc := meta.Embed("add OAuth", seedMeta)
	store.CreateTask(t.Context(), queueCol.ID, board.Task{Title: "implement login", Description: desc, Color: 1})

	reg := writeRegistry(t, `[{"id":"claude","cmd":"sh","args":["-c","exit 1"],"keywords":["implement"],"ramMB":1,"enabled":true}]`)
	l := New(store, reg, cache, ample, Config{WorkspaceDir: t.TempDir(), ResultsDir: t.TempDir()})

	l.tick(t.Context())
	waitUntil(t, func() bool {
		b, _ := store.GetBoard(t.Context())
		col, _ := b.ColumnByTitle(board.ColumnReview)
		return col != nil && len(col.Tasks) == 1
	})

	b, _ = store.GetBoard(t.Context())
	reviewCol, _ := b.ColumnByTitle(board.ColumnReview)
	m := meta.Parse(reviewCol.Tasks[0].Description)
	if m == nil || m.Status != meta.StatusFailed || m.Attempts != 3 {
		t.Fatalf("expected failed with attempts=3, got %+v", m)
	}
}

func TestTickNoOpWhenBelowGlobalFloor(t *testing.T) {
	store, cache := bootstrapped(t)
	b, _ := store.GetBoard(t.Context())
	queueCol, _ := b.ColumnByTitle(board.ColumnQueue)
	store.CreateTask(t.Context(), queueCol.ID, board.Task{Title: "implement login", Description: "add OAuth"})

	reg := writeRegistry(t, `[{"id":"claude","cmd":"sh","args":["-c","exit 0"],"enabled":true}]`)
	lowMem := func() (int, error) { return 10, nil }
	l := New(store, reg, cache, lowMem, Config{WorkspaceDir: t.TempDir(), ResultsDir: t.TempDir(), GlobalFloorMB: 400})

	l.tick(t.Context())

	b, _ = store.GetBoard(t.Context())
	queueCol, _ = b.ColumnByTitle(board.ColumnQueue)
	if len(queueCol.Tasks) != 1 {
		t.Fatalf("expected task to remain in Queue when below floor, got %d", len(queueCol.Tasks))
	}
	snap := l.Snapshot()
	if snap.LastPollError != nil {
		t.Fatalf("expected nil lastPollError on a below-floor no-op, got %v", snap.LastPollError)
	}
}

func TestTickSkipsWhenAtConcurrencyCap(t *testing.T) {
	store, cache := bootstrapped(t)
	reg := writeRegistry(t, `[{"id":"claude","cmd":"sh","args":["-c","exit 0"],"enabled":true}]`)
	l := New(store, reg, cache, ample, Config{WorkspaceDir: t.TempDir(), ResultsDir: t.TempDir(), Concurrency: 1})

	l.mu.Lock()
	l.activeAgents["already-running"] = ActiveAgent{Agent: "claude"}
	l.mu.Unlock()

	l.tick(t.Context())

	snap := l.Snapshot()
	if len(snap.ActiveAgents) != 1 {
		t.Fatalf("expected the tick to be a no-op at capacity, got %+v", snap.ActiveAgents)
	}
}

func TestResetStaleThenDispatchesInSameTick(t *testing.T) {
	store, cache := bootstrapped(t)
	b, _ := store.GetBoard(t.Context())
	queueCol, _ := b.ColumnByTitle(board.ColumnQueue)

	a := "claude"
	staleMeta := meta.AgentMeta{Agent: &a, Status: meta.StatusRunning, Attempts: 1}
	desc := meta.Embed("add OAuth", staleMeta)
	store.CreateTask(t.Context(), queueCol.ID, board.Task{Title: "implement login", Description: desc})

	reg := writeRegistry(t, `[{"id":"claude","cmd":"sh","args":["-c","echo ok > RESULT.md"],"ramMB":1,"enabled":true}]`)
	l := New(store, reg, cache, ample, Config{WorkspaceDir: t.TempDir(), ResultsDir: t.TempDir()})

	l.tick(t.Context())

	waitUntil(t, func() bool {
		b, _ := store.GetBoard(t.Context())
		col, _ := b.ColumnByTitle(board.ColumnReview)
		return col != nil && len(col.Tasks) == 1
	})

	b, _ = store.GetBoard(t.Context())
	reviewCol, _ := b.ColumnByTitle(board.ColumnReview)
	m := meta.Parse(reviewCol.Tasks[0].Description)
	if m == nil || m.Status != meta.StatusReview || m.Attempts != 2 {
		t.Fatalf("expected stale task repaired then re-dispatched to attempts=2, got %+v", m)
	}
}

func TestRelatedTaskTitlesSharesNonZeroColor(t *testing.T) {
	task := board.Task{ID: "t1", Title: "main", Color: 2}
	siblings := []board.Task{
		{ID: "t1", Title: "main", Color: 2},
		{ID: "t2", Title: "sibling-a", Color: 2},
		{ID: "t3", Title: "other-color", Color: 3},
		{ID: "t4", Title: "no-color"},
	}
	got := relatedTaskTitles(task, siblings)
	if len(got) != 1 || got[0] != "sibling-a" {
		t.Fatalf("expected only same-color sibling, got %+v", got)
	}
}

func TestRelatedTaskTitlesEmptyForZeroColor(t *testing.T) {
	task := board.Task{ID: "t1", Color: 0}
	if got := relatedTaskTitles(task, []board.Task{{ID: "t2", Title: "x", Color: 1}}); got != nil {
		t.Fatalf("expected nil for zero color, got %+v", got)
	}
}
