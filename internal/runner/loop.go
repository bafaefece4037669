package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DYAI2025/kanban-orchestrator/internal/board"
	"github.com/DYAI2025/kanban-orchestrator/internal/columns"
	"github.com/DYAI2025/kanban-orchestrator/internal/events"
	"github.com/DYAI2025/kanban-orchestrator/internal/meta"
	"github.com/DYAI2025/kanban-orchestrator/internal/registry"
	"github.com/DYAI2025/kanban-orchestrator/internal/routing"
)

// alerter is the operator-notification surface the loop calls on
// terminal task failure. Satisfied by *notify.Notifier; kept as a local
// interface to avoid the runner package depending on notify's toast
// plumbing in tests.
type alerter interface {
	TaskFailed(taskID, title, lastError string)
}

const (
	tickInterval        = 15 * time.Second
	defaultConcurrency   = 1
	defaultGlobalFloorMB = 400
	maxAttempts          = 3
)

// ActiveAgent is the public shape of a currently dispatched agent, as
// surfaced on the health endpoint.
type ActiveAgent struct {
	Agent     string
	PID       int
	StartedAt time.Time
}

// Loop is the Task Runner coordinator. All fields below activeAgents
// must only be touched from the coordinator goroutine (spec 5: "owned
// by the Task Runner's single coordinator").
type Loop struct {
	store        board.Store
	registry     *registry.Registry
	supervisor   *Supervisor
	archiver     *Archiver
	columns      *columns.Cache
	workspaceDir string
	alerter      alerter
	bus          *events.Bus

	concurrency  int
	globalFloorMB int
	freeMB       func() (int, error)

	mu            sync.Mutex
	activeAgents  map[string]ActiveAgent // taskId -> agent
	completed     int
	lastPollError error
	startedAt     time.Time
}

// Config carries the tunables documented in the ambient config layer.
type Config struct {
	Concurrency   int
	GlobalFloorMB int
	WorkspaceDir  string
	ResultsDir    string
}

// New builds a Task Runner loop.
func New(store board.Store, reg *registry.Registry, cols *columns.Cache, freeMB func() (int, error), cfg Config) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.GlobalFloorMB <= 0 {
		cfg.GlobalFloorMB = defaultGlobalFloorMB
	}
	return &Loop{
		store:         store,
		registry:      reg,
		supervisor:    NewSupervisor(),
		archiver:      NewArchiver(cfg.ResultsDir),
		columns:       cols,
		workspaceDir:  cfg.WorkspaceDir,
		concurrency:   cfg.Concurrency,
		globalFloorMB: cfg.GlobalFloorMB,
		freeMB:        freeMB,
		activeAgents:  make(map[string]ActiveAgent),
		startedAt:     time.Now(),
	}
}

// SetAlerter wires an operator notification sink; optional.
func (l *Loop) SetAlerter(a alerter) {
	l.alerter = a
}

// SetEventBus wires lifecycle event publishing for the /ws surface; optional.
func (l *Loop) SetEventBus(b *events.Bus) {
	l.bus = b
}

func (l *Loop) publish(eventType events.EventType, taskID, title string, extra map[string]interface{}) {
	if l.bus == nil {
		return
	}
	payload := map[string]interface{}{"taskId": taskID, "title": title}
	for k, v := range extra {
		payload[k] = v
	}
	l.bus.Publish(events.NewEvent(eventType, "runner", "all", events.PriorityNormal, payload))
}

// Run polls every tickInterval until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// Snapshot exposes the coordinator's state for the health surface.
type Snapshot struct {
	ActiveAgents  map[string]ActiveAgent
	Completed     int
	LastPollError error
	Uptime        time.Duration
	Concurrency   int
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	agents := make(map[string]ActiveAgent, len(l.activeAgents))
	for k, v := range l.activeAgents {
		agents[k] = v
	}
	return Snapshot{
		ActiveAgents:  agents,
		Completed:     l.completed,
		LastPollError: l.lastPollError,
		Uptime:        time.Since(l.startedAt),
		Concurrency:   l.concurrency,
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	atCapacity := len(l.activeAgents) >= l.concurrency
	l.mu.Unlock()
	if atCapacity {
		return
	}

	free, err := l.freeMB()
	if err != nil {
		l.setPollError(err)
		return
	}
	if free < l.globalFloorMB {
		l.setPollError(nil)
		return
	}

	b, err := l.store.GetBoard(ctx)
	if err != nil {
		l.setPollError(err)
		return
	}
	columns.Refresh(b, l.columns)

	if _, ok := l.columns.ID(board.ColumnQueue); !ok {
		l.setPollError(fmt.Errorf("runner: Queue column not resolved"))
		return
	}
	queueCol, _ := b.ColumnByTitle(board.ColumnQueue)
	if queueCol == nil || len(queueCol.Tasks) == 0 {
		l.setPollError(nil)
		return
	}

	task := queueCol.Tasks[0]
	if l.isTracked(task.ID) {
		l.setPollError(nil)
		return
	}

	if m := meta.Parse(task.Description); meta.IsStale(m, false) {
		task.Description = l.resetStale(ctx, task)
	}

	l.dispatch(ctx, task, allTasks(b))
	l.setPollError(nil)
}

func allTasks(b *board.Board) []board.Task {
	var out []board.Task
	for _, c := range b.Columns {
		out = append(out, c.Tasks...)
	}
	return out
}

func (l *Loop) setPollError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPollError = err
}

func (l *Loop) isTracked(taskID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.activeAgents[taskID]
	return ok
}

// resetStale rewrites a task's meta from running to queued and returns
// the updated description so the caller can proceed with dispatch in
// the same tick (spec 4.L: "leaves the task where it is and proceed").
func (l *Loop) resetStale(ctx context.Context, task board.Task) string {
	m := meta.Parse(task.Description)
	if m == nil {
		return task.Description
	}
	m.Status = meta.StatusQueued
	newDesc := meta.Embed(task.Description, *m)
	desc := newDesc
	if err := l.store.UpdateTask(ctx, task.ID, board.TaskPatch{Description: &desc}); err != nil {
		log.Printf("runner: stale repair updateTask(%s): %v", task.ID, err)
	}
	return newDesc
}

// dispatch runs the full per-task sequence (spec 4.L). Steps that would
// abort admission (agent RAM floor) do not advance the task at all.
func (l *Loop) dispatch(ctx context.Context, task board.Task, siblings []board.Task) {
	strippedDesc := meta.Strip(task.Description)
	agentID := routing.Route(task.Title, strippedDesc, meta.Parse(task.Description), l.registry.Enabled())
	agent, ok := l.registry.ByID(agentID)
	if !ok {
		log.Printf("runner: routed agent %q not found in registry, skipping tick", agentID)
		return
	}

	free, err := l.freeMB()
	if err != nil || free < agent.RAMMB {
		// Per-agent floor not cleared; do not advance the task.
		return
	}

	workDir := filepath.Join(l.workspaceDir, task.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		log.Printf("runner: mkdir workspace %s: %v", workDir, err)
		return
	}

	existing := meta.Parse(task.Description)
	attempts := 1
	if existing != nil {
		attempts = existing.Attempts + 1
	}
	started := time.Now()
	agentIDCopy := agent.ID
	newMeta := meta.AgentMeta{Agent: &agentIDCopy, Status: meta.StatusRunning, Attempts: attempts, StartedAt: &started}
	newDesc := meta.Embed(task.Description, newMeta)
	if err := l.store.UpdateTask(ctx, task.ID, board.TaskPatch{Description: &newDesc}); err != nil {
		log.Printf("runner: updateTask(%s) running: %v", task.ID, err)
	}

	wipID, _ := l.columns.ID(board.ColumnAgentWIP)
	if err := l.store.MoveTask(ctx, task.ID, wipID); err != nil {
		log.Printf("runner: moveTask(%s) to Agent WIP: %v", task.ID, err)
	}

	l.mu.Lock()
	l.activeAgents[task.ID] = ActiveAgent{Agent: agent.ID, StartedAt: started}
	l.mu.Unlock()

	related := relatedTaskTitles(task, siblings)
	prompt := buildPrompt(task.Title, strippedDesc, related)
	l.publish(events.EventTaskDispatched, task.ID, task.Title, map[string]interface{}{"agent": agent.ID})

	go l.runAndFinalize(ctx, task, agent, prompt, workDir, attempts)
}

func (l *Loop) runAndFinalize(ctx context.Context, task board.Task, agent registry.Agent, prompt, workDir string, attempts int) {
	defer func() {
		l.mu.Lock()
		delete(l.activeAgents, task.ID)
		l.mu.Unlock()
	}()

	result, err := l.supervisor.Run(ctx, agent, prompt, workDir)
	if err != nil {
		log.Printf("runner: supervisor run failed for task %s: %v", task.ID, err)
		result = &SupervisorResult{Success: false, ExitCode: -1}
	}

	resultPath, summary, archErr := l.archiver.Archive(task.ID, workDir, result)
	if archErr != nil {
		log.Printf("runner: archive failed for task %s: %v", task.ID, archErr)
	}

	if result.Success {
		l.finishSuccess(ctx, task, agent.ID, attempts, resultPath, summary)
		return
	}
	l.finishFailure(ctx, task, agent.ID, attempts, resultPath, summary, result)
}

func (l *Loop) finishSuccess(ctx context.Context, task board.Task, agentID string, attempts int, resultPath, summary string) {
	a := agentID
	m := meta.AgentMeta{
		Agent:         &a,
		Status:        meta.StatusReview,
		Attempts:      attempts,
		ResultPath:    resultPath,
		LastError:     nil,
		ResultSummary: summary,
	}
	l.writeOutcome(ctx, task, m, board.ColumnReview)
	l.publish(events.EventTaskReview, task.ID, task.Title, nil)

	l.mu.Lock()
	l.completed++
	l.mu.Unlock()
}

func (l *Loop) finishFailure(ctx context.Context, task board.Task, agentID string, attempts int, resultPath, summary string, result *SupervisorResult) {
	errText := failureMessage(result)
	a := agentID

	if attempts < maxAttempts {
		m := meta.AgentMeta{Agent: &a, Status: meta.StatusQueued, Attempts: attempts, LastError: &errText, ResultSummary: summary}
		l.writeOutcome(ctx, task, m, board.ColumnQueue)
		return
	}
	m := meta.AgentMeta{Agent: &a, Status: meta.StatusFailed, Attempts: attempts, ResultPath: resultPath, LastError: &errText, ResultSummary: summary}
	l.writeOutcome(ctx, task, m, board.ColumnReview)
	l.publish(events.EventTaskFailed, task.ID, task.Title, map[string]interface{}{"error": errText})
	if l.alerter != nil {
		l.alerter.TaskFailed(task.ID, task.Title, errText)
	}
}

func (l *Loop) writeOutcome(ctx context.Context, task board.Task, m meta.AgentMeta, targetTitle string) {
	newDesc := meta.Embed(task.Description, m)
	if err := l.store.UpdateTask(ctx, task.ID, board.TaskPatch{Description: &newDesc}); err != nil {
		log.Printf("runner: updateTask(%s) outcome: %v", task.ID, err)
	}
	targetID, ok := l.columns.ID(targetTitle)
	if !ok {
		log.Printf("runner: target column %q not cached, skipping move for task %s", targetTitle, task.ID)
		return
	}
	if err := l.store.MoveTask(ctx, task.ID, targetID); err != nil {
		log.Printf("runner: moveTask(%s) to %s: %v", task.ID, targetTitle, err)
	}
}

func failureMessage(result *SupervisorResult) string {
	if result.TimedOut {
		return "Timeout (10min)"
	}
	stderr := result.Stderr
	if len(stderr) > 200 {
		stderr = stderr[:200]
	}
	return fmt.Sprintf("Exit %d: %s", result.ExitCode, stderr)
}

const promptConstraintDE = `Erstelle am Ende zwingend eine Datei RESULT.md im Arbeitsverzeichnis mit: einer kurzen Zusammenfassung, einer Liste der geänderten/erstellten Dateien, relevanten Links, und im Fehlerfall einem klaren Hinweis auf den Grund.`

func buildPrompt(title, description string, related []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n%s\n", title, description, promptConstraintDE)
	if len(related) > 0 {
		b.WriteString("\n## Verwandte Aufgaben\n")
		for _, t := range related {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	return b.String()
}

// relatedTaskTitles returns up to 5 sibling titles sharing task's
// non-zero color. Callers pass the full task list from the same board
// snapshot used for dispatch.
func relatedTaskTitles(task board.Task, allTasks []board.Task) []string {
	if task.Color == 0 {
		return nil
	}
	var out []string
	for _, t := range allTasks {
		if t.ID == task.ID || t.Color != task.Color {
			continue
		}
		out = append(out, t.Title)
		if len(out) == 5 {
			break
		}
	}
	return out
}
