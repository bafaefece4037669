package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local, non-durable Store — useful for tests
// and for the in-memory deployment option noted in DESIGN.md's Open
// Question (3 concrete Board Store implementations).
type MemoryStore struct {
	mu guardedBoard
}

type guardedBoard struct {
	sync.Mutex
	b Board
}

// NewMemoryStore creates an empty in-memory board.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	m.mu.b = Board{Columns: []Column{}, Initiatives: []Initiative{}, Backlog: []BacklogProject{}}
	return m
}

func (m *MemoryStore) GetBoard(ctx context.Context) (*Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.mu.b
	return &cp, nil
}

func (m *MemoryStore) SaveBoard(ctx context.Context, b *Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *b
	cur := m.mu.b
	preserveBacklog(&cur, &next)
	m.mu.b = next
	return nil
}

func (m *MemoryStore) ListBacklog(ctx context.Context) ([]BacklogProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BacklogProject{}, m.mu.b.Backlog...), nil
}

func (m *MemoryStore) GetBacklogProject(ctx context.Context, id string) (*BacklogProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mu.b.Backlog {
		if m.mu.b.Backlog[i].ID == id {
			cp := m.mu.b.Backlog[i]
			return &cp, nil
		}
	}
	return nil, &StoreError{Op: "GetBacklogProject", Status: 404, Err: fmt.Errorf("project %s not found", id)}
}

func (m *MemoryStore) UpdateBacklog(ctx context.Context, id string, patch BacklogPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mu.b.Backlog {
		if m.mu.b.Backlog[i].ID != id {
			continue
		}
		if patch.SpecStatus != nil {
			m.mu.b.Backlog[i].SpecStatus = *patch.SpecStatus
		}
		if patch.Spec != nil {
			m.mu.b.Backlog[i].Spec = *patch.Spec
		}
		if patch.SpecTasks != nil {
			m.mu.b.Backlog[i].SpecTasks = patch.SpecTasks
		}
		return nil
	}
	return &StoreError{Op: "UpdateBacklog", Status: 404, Err: fmt.Errorf("project %s not found", id)}
}

// AddBacklogProject is a test/bootstrap helper not part of the Store
// interface — MemoryStore has no external writer to seed the backlog.
func (m *MemoryStore) AddBacklogProject(p BacklogProject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	m.mu.b.Backlog = append(m.mu.b.Backlog, p)
}

func (m *MemoryStore) ListTasks(ctx context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []Task
	for _, c := range m.mu.b.Columns {
		tasks = append(tasks, c.Tasks...)
	}
	return tasks, nil
}

func (m *MemoryStore) CreateTask(ctx context.Context, columnID string, t Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	for i := range m.mu.b.Columns {
		if m.mu.b.Columns[i].ID == columnID {
			m.mu.b.Columns[i].Tasks = append(m.mu.b.Columns[i].Tasks, t)
			return &t, nil
		}
	}
	return nil, &StoreError{Op: "CreateTask", Status: 404, Err: fmt.Errorf("column %s not found", columnID)}
}

func (m *MemoryStore) findTask(id string) (*Task, *Column, int) {
	for ci := range m.mu.b.Columns {
		for ti := range m.mu.b.Columns[ci].Tasks {
			if m.mu.b.Columns[ci].Tasks[ti].ID == id {
				return &m.mu.b.Columns[ci].Tasks[ti], &m.mu.b.Columns[ci], ti
			}
		}
	}
	return nil, nil, -1
}

func (m *MemoryStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, _, _ := m.findTask(id)
	if t == nil {
		return &StoreError{Op: "UpdateTask", Status: 404, Err: fmt.Errorf("task %s not found", id)}
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Color != nil {
		t.Color = *patch.Color
	}
	return nil
}

func (m *MemoryStore) MoveTask(ctx context.Context, id string, targetColumnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, col, idx := m.findTask(id)
	if t == nil {
		return &StoreError{Op: "MoveTask", Status: 404, Err: fmt.Errorf("task %s not found", id)}
	}
	moved := *t
	now := time.Now()
	moved.MovedAt = &now
	for i := range m.mu.b.Columns {
		if m.mu.b.Columns[i].ID == targetColumnID {
			m.mu.b.Columns[i].Tasks = append(m.mu.b.Columns[i].Tasks, moved)
			col.Tasks = append(col.Tasks[:idx], col.Tasks[idx+1:]...)
			return nil
		}
	}
	return &StoreError{Op: "MoveTask", Status: 404, Err: fmt.Errorf("column %s not found", targetColumnID)}
}

func (m *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, col, idx := m.findTask(id)
	if col == nil {
		return &StoreError{Op: "DeleteTask", Status: 404, Err: fmt.Errorf("task %s not found", id)}
	}
	col.Tasks = append(col.Tasks[:idx], col.Tasks[idx+1:]...)
	return nil
}

func (m *MemoryStore) ListColumns(ctx context.Context) ([]Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Column{}, m.mu.b.Columns...), nil
}

func (m *MemoryStore) CreateColumn(ctx context.Context, title string) (*Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := Column{ID: uuid.New().String(), Title: title, Tasks: []Task{}}
	m.mu.b.Columns = append(m.mu.b.Columns, col)
	return &col, nil
}

var _ Store = (*MemoryStore)(nil)
