package health

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"encoding/json"

	"github.com/DYAI2025/kanban-orchestrator/internal/board"
	"github.com/DYAI2025/kanban-orchestrator/internal/columns"
	"github.com/DYAI2025/kanban-orchestrator/internal/registry"
	"github.com/DYAI2025/kanban-orchestrator/internal/runner"
)

func ample() (int, error) { return 2048, nil }

func writeRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	body := `[{"id":"claude","cmd":"sh","args":["-c","true"],"keywords":["implement"],"ramMB":1,"enabled":true}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return reg
}

func newTestServer(t *testing.T) (*Server, *board.MemoryStore) {
	t.Helper()
	store := board.NewMemoryStore()
	cache := columns.NewCache()
	if err := columns.Bootstrap(t.Context(), store, cache); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	reg := writeRegistry(t)
	loop := runner.New(store, reg, cache, ample, runner.Config{WorkspaceDir: t.TempDir(), ResultsDir: t.TempDir()})
	s := New(loop, reg, store, cache, nil, Config{ExportDir: t.TempDir(), ResultsDir: t.TempDir(), FreeMB: ample})
	return s, store
}

func TestHandleStatusReturnsServiceShape(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Service != "kanban-orchestrator" {
		t.Fatalf("expected service name, got %q", resp.Service)
	}
	if resp.Concurrency != 1 {
		t.Fatalf("expected default concurrency 1, got %d", resp.Concurrency)
	}
	if resp.FreeMemoryMB != 2048 {
		t.Fatalf("expected free memory from injected freeMB, got %d", resp.FreeMemoryMB)
	}
	if _, ok := resp.ColumnIDs[board.ColumnQueue]; !ok {
		t.Fatalf("expected Queue column id present, got %+v", resp.ColumnIDs)
	}
}

func TestHandleAgentsListsRegistry(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/agents", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var agents []registry.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "claude" {
		t.Fatalf("expected registry agent 'claude', got %+v", agents)
	}
}

func TestHandleExportWritesBackupAndManifest(t *testing.T) {
	s, store := newTestServer(t)

	b, _ := store.GetBoard(t.Context())
	queueCol, _ := b.ColumnByTitle(board.ColumnQueue)
	if _, err := store.CreateTask(t.Context(), queueCol.ID, board.Task{Title: "sample", Description: "d"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	req := httptest.NewRequest("GET", "/export", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp exportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TaskCount != 1 {
		t.Fatalf("expected 1 task exported, got %d", resp.TaskCount)
	}
	if _, err := os.Stat(resp.Path); err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
	if _, err := os.Stat(resp.ManifestPath); err != nil {
		t.Fatalf("expected manifest file to exist: %v", err)
	}

	manifestData, err := os.ReadFile(resp.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest exportManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(manifest.TaskIDs) != 1 {
		t.Fatalf("expected manifest to list 1 task id, got %+v", manifest.TaskIDs)
	}
	if manifest.BoardSnapshotHash == "" {
		t.Fatal("expected non-empty board snapshot hash")
	}
}

func TestHandleWebSocketWithoutBusReturns503(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/ws", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != 503 {
		t.Fatalf("expected 503 without an event bus, got %d", rec.Code)
	}
}
