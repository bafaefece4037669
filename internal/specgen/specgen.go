// Package specgen runs the single-threaded cooperative loop that turns
// backlog projects awaiting a spec into a generated markdown spec plus
// task list, by fanning Context -> LLM -> Extractor -> updateBacklog
// out fire-and-forget per project.
package specgen

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/DYAI2025/kanban-orchestrator/internal/board"
	"github.com/DYAI2025/kanban-orchestrator/internal/contextpipe"
	"github.com/DYAI2025/kanban-orchestrator/internal/events"
	"github.com/DYAI2025/kanban-orchestrator/internal/extract"
	"github.com/DYAI2025/kanban-orchestrator/internal/llmchain"
)

const (
	tickInterval = 10 * time.Second
	inFlightTTL  = 5 * time.Minute
)

// alerter is the operator-notification surface called on a backlog
// project's terminal spec-generation failure.
type alerter interface {
	SpecError(projectID, title, message string)
}

// Loop is the Spec Generator coordinator. It owns the in-flight set and
// must only be mutated from its own goroutine.
type Loop struct {
	store    board.Store
	github   *contextpipe.GithubClient
	chain    *llmchain.Chain
	alerter  alerter
	bus      *events.Bus
	inFlight map[string]time.Time
	mu       sync.Mutex
}

// SetAlerter wires an operator notification sink; optional.
func (l *Loop) SetAlerter(a alerter) {
	l.alerter = a
}

// SetEventBus wires lifecycle event publishing for the /ws surface; optional.
func (l *Loop) SetEventBus(b *events.Bus) {
	l.bus = b
}

func (l *Loop) publish(eventType events.EventType, projectID, title string, extra map[string]interface{}) {
	if l.bus == nil {
		return
	}
	payload := map[string]interface{}{"projectId": projectID, "title": title}
	for k, v := range extra {
		payload[k] = v
	}
	l.bus.Publish(events.NewEvent(eventType, "specgen", "all", events.PriorityNormal, payload))
}

// New builds a Loop against the given board store, GitHub client, and
// LLM fallback chain.
func New(store board.Store, github *contextpipe.GithubClient, chain *llmchain.Chain) *Loop {
	return &Loop{
		store:    store,
		github:   github,
		chain:    chain,
		inFlight: make(map[string]time.Time),
	}
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

func (l *Loop) tick(ctx context.Context) {
	l.reap()

	projects, err := l.store.ListBacklog(ctx)
	if err != nil {
		log.Printf("specgen: list backlog: %v", err)
		return
	}

	for _, p := range projects {
		if p.SpecStatus != board.SpecGenerating {
			continue
		}
		if l.markInFlight(p.ID) {
			go l.generate(ctx, p)
		}
	}
}

// reap frees in-flight entries older than inFlightTTL, treating their
// projects as eligible for retry on the next tick.
func (l *Loop) reap() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for id, started := range l.inFlight {
		if now.Sub(started) > inFlightTTL {
			delete(l.inFlight, id)
		}
	}
}

func (l *Loop) markInFlight(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.inFlight[id]; ok {
		return false
	}
	l.inFlight[id] = time.Now()
	return true
}

func (l *Loop) clearInFlight(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, id)
}

// generate runs the full pipeline for a single project. It never
// returns a value to the loop; completion reaches board state purely
// through updateBacklog.
func (l *Loop) generate(ctx context.Context, p board.BacklogProject) {
	defer l.clearInFlight(p.ID)

	docs := make([]contextpipe.BoardDocument, 0, len(p.Documents))
	for _, d := range p.Documents {
		docs = append(docs, contextpipe.BoardDocument{Name: d.Name, URL: d.URL, Content: d.Content})
	}
	prompt := contextpipe.Build(ctx, l.github, contextpipe.ProjectInput{
		Title:       p.Title,
		Description: p.Description,
		GithubLink:  p.GithubLink,
		Documents:   docs,
	})

	completion, err := l.chain.Complete(ctx, llmchain.Request{Prompt: prompt})
	if err != nil {
		l.fail(ctx, p.ID, p.Title, fmt.Sprintf("llm chain failed: %v", err))
		return
	}

	result, err := extract.Extract(completion.Text)
	if err != nil {
		l.fail(ctx, p.ID, p.Title, fmt.Sprintf("could not parse model output: %v", err))
		return
	}

	tasks := make([]board.SpecTask, 0, len(result.Tasks))
	for _, t := range result.Tasks {
		tasks = append(tasks, board.SpecTask{Title: t.Title, Details: t.Details})
	}

	ready := board.SpecReady
	if err := l.store.UpdateBacklog(ctx, p.ID, board.BacklogPatch{
		SpecStatus: &ready,
		Spec:       &result.Spec,
		SpecTasks:  tasks,
	}); err != nil {
		log.Printf("specgen: updateBacklog(%s) ready: %v", p.ID, err)
	}
	l.publish(events.EventSpecReady, p.ID, p.Title, map[string]interface{}{"taskCount": len(tasks)})
}

func (l *Loop) fail(ctx context.Context, projectID, title, message string) {
	errStatus := board.SpecError
	if err := l.store.UpdateBacklog(ctx, projectID, board.BacklogPatch{
		SpecStatus: &errStatus,
		Spec:       &message,
	}); err != nil {
		log.Printf("specgen: updateBacklog(%s) error: %v", projectID, err)
	}
	l.publish(events.EventSpecError, projectID, title, map[string]interface{}{"message": message})
	if l.alerter != nil {
		l.alerter.SpecError(projectID, title, message)
	}
}
