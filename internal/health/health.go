// Package health serves the local-only HTTP control surface: a status
// endpoint, the agent registry listing, and the backup export, plus an
// optional event stream for operator tooling (spec 4.M).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DYAI2025/kanban-orchestrator/internal/board"
	"github.com/DYAI2025/kanban-orchestrator/internal/events"
	"github.com/DYAI2025/kanban-orchestrator/internal/registry"
	"github.com/DYAI2025/kanban-orchestrator/internal/runner"
	"github.com/DYAI2025/kanban-orchestrator/internal/sysmem"
	"github.com/gorilla/mux"
)

// Server is the health/control HTTP surface. It holds no state of its
// own; every handler reads straight from the runner, registry, and
// board store it wraps.
type Server struct {
	httpServer *http.Server
	router     *mux.Router

	runnerLoop *runner.Loop
	registry   *registry.Registry
	store      board.Store
	bus        *events.Bus
	columns    columnCache
	exportDir  string
	resultsDir string
	freeMB     func() (int, error)
}

// columnCache is the subset of columns.Cache this package needs, kept
// as a local interface so health doesn't have to import columns just
// for a type name (health never mutates the cache).
type columnCache interface {
	ID(title string) (string, bool)
}

// Config carries the wiring New needs beyond the core loop references.
type Config struct {
	ExportDir  string
	ResultsDir string
	FreeMB     func() (int, error)
}

// New builds a health server. bus may be nil, in which case /ws always
// responds 503 Service Unavailable.
func New(runnerLoop *runner.Loop, reg *registry.Registry, store board.Store, cols columnCache, bus *events.Bus, cfg Config) *Server {
	freeMB := cfg.FreeMB
	if freeMB == nil {
		freeMB = sysmem.FreeMB
	}
	s := &Server{
		runnerLoop: runnerLoop,
		registry:   reg,
		store:      store,
		bus:        bus,
		columns:    cols,
		exportDir:  cfg.ExportDir,
		resultsDir: cfg.ResultsDir,
		freeMB:     freeMB,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(securityHeadersMiddleware)
	s.router.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/agents", s.handleAgents).Methods(http.MethodGet)
	s.router.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
}

// ListenAndServe starts the HTTP server on addr; it blocks until the
// server is shut down or fails.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// statusResponse is the shape of GET /.
type statusResponse struct {
	Service       string                    `json:"service"`
	Concurrency   int                       `json:"concurrency"`
	ActiveAgents  map[string]activeAgentDTO `json:"activeAgents"`
	Completed     int                       `json:"completed"`
	FreeMemoryMB  int                       `json:"freeMemoryMB"`
	ColumnIDs     map[string]string         `json:"columnIDs"`
	LastPollError string                    `json:"lastPollError,omitempty"`
	UptimeSeconds float64                   `json:"uptimeSeconds"`
	LastRegistryReload time.Time            `json:"lastRegistryReload"`
	RegistryReloadCount int64               `json:"registryReloadCount"`
}

type activeAgentDTO struct {
	Agent     string `json:"agent"`
	PID       int    `json:"pid"`
	RuntimeMs int64  `json:"runtimeMs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.runnerLoop.Snapshot()

	agents := make(map[string]activeAgentDTO, len(snap.ActiveAgents))
	now := time.Now()
	for taskID, a := range snap.ActiveAgents {
		agents[taskID] = activeAgentDTO{Agent: a.Agent, PID: a.PID, RuntimeMs: now.Sub(a.StartedAt).Milliseconds()}
	}

	free, err := s.freeMB()
	if err != nil {
		free = -1
	}

	cols := map[string]string{}
	for _, title := range []string{board.ColumnQueue, board.ColumnAgentWIP, board.ColumnReview, board.ColumnDone} {
		if id, ok := s.columns.ID(title); ok {
			cols[title] = id
		}
	}

	resp := statusResponse{
		Service:       "kanban-orchestrator",
		Concurrency:   snap.Concurrency,
		ActiveAgents:  agents,
		Completed:     snap.Completed,
		FreeMemoryMB:  free,
		ColumnIDs:     cols,
		UptimeSeconds: snap.Uptime.Seconds(),
		LastRegistryReload:  s.registry.LastReloadedAt(),
		RegistryReloadCount: s.registry.ReloadCount(),
	}
	if snap.LastPollError != nil {
		resp.LastPollError = snap.LastPollError.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.List())
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
