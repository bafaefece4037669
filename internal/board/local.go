package board

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// LocalStore persists the board document to a local SQLite file as a
// single JSON blob, the way persistence.JSONStore persisted dashboard
// state in the teacher repo — but backed by a real embedded database
// (pure-Go modernc.org/sqlite, no cgo) so concurrent readers/writers
// don't race on partial file writes the way plain os.WriteFile would.
type LocalStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewLocalStore opens (creating if absent) a SQLite file at path and
// ensures the board document row exists.
func NewLocalStore(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("board: local store: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("board: local store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer document store

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS board_document (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("board: local store: migrate: %w", err)
	}

	s := &LocalStore{db: db}
	if err := s.ensureSeed(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) ensureSeed() error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM board_document WHERE id = 1`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	empty := &Board{Columns: []Column{}, Initiatives: []Initiative{}, Backlog: []BacklogProject{}}
	data, err := json.Marshal(empty)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO board_document (id, data, updated_at) VALUES (1, ?, ?)`, string(data), time.Now())
	return err
}

func (s *LocalStore) Close() error { return s.db.Close() }

func (s *LocalStore) readLocked() (*Board, error) {
	var data string
	if err := s.db.QueryRow(`SELECT data FROM board_document WHERE id = 1`).Scan(&data); err != nil {
		return nil, fmt.Errorf("board: local store: read: %w", err)
	}
	var b Board
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("board: local store: decode: %w", err)
	}
	return &b, nil
}

func (s *LocalStore) writeLocked(b *Board) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("board: local store: encode: %w", err)
	}
	_, err = s.db.Exec(`UPDATE board_document SET data = ?, updated_at = ? WHERE id = 1`, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("board: local store: write: %w", err)
	}
	return nil
}

func (s *LocalStore) GetBoard(ctx context.Context) (*Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *LocalStore) SaveBoard(ctx context.Context, b *Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.readLocked()
	if err != nil {
		return err
	}
	next := *b
	preserveBacklog(cur, &next)
	return s.writeLocked(&next)
}

func (s *LocalStore) ListBacklog(ctx context.Context) ([]BacklogProject, error) {
	b, err := s.GetBoard(ctx)
	if err != nil {
		return nil, err
	}
	return b.Backlog, nil
}

func (s *LocalStore) GetBacklogProject(ctx context.Context, id string) (*BacklogProject, error) {
	b, err := s.GetBoard(ctx)
	if err != nil {
		return nil, err
	}
	for i := range b.Backlog {
		if b.Backlog[i].ID == id {
			return &b.Backlog[i], nil
		}
	}
	return nil, &StoreError{Op: "GetBacklogProject", Status: 404, Err: fmt.Errorf("project %s not found", id)}
}

func (s *LocalStore) UpdateBacklog(ctx context.Context, id string, patch BacklogPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.readLocked()
	if err != nil {
		return err
	}
	found := false
	for i := range b.Backlog {
		if b.Backlog[i].ID != id {
			continue
		}
		found = true
		if patch.SpecStatus != nil {
			b.Backlog[i].SpecStatus = *patch.SpecStatus
		}
		if patch.Spec != nil {
			b.Backlog[i].Spec = *patch.Spec
		}
		if patch.SpecTasks != nil {
			b.Backlog[i].SpecTasks = patch.SpecTasks
		}
	}
	if !found {
		return &StoreError{Op: "UpdateBacklog", Status: 404, Err: fmt.Errorf("project %s not found", id)}
	}
	return s.writeLocked(b)
}

func (s *LocalStore) ListTasks(ctx context.Context) ([]Task, error) {
	b, err := s.GetBoard(ctx)
	if err != nil {
		return nil, err
	}
	var tasks []Task
	for _, col := range b.Columns {
		tasks = append(tasks, col.Tasks...)
	}
	return tasks, nil
}

func (s *LocalStore) CreateTask(ctx context.Context, columnID string, t Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	found := false
	for i := range b.Columns {
		if b.Columns[i].ID == columnID {
			b.Columns[i].Tasks = append(b.Columns[i].Tasks, t)
			found = true
			break
		}
	}
	if !found {
		return nil, &StoreError{Op: "CreateTask", Status: 404, Err: fmt.Errorf("column %s not found", columnID)}
	}
	if err := s.writeLocked(b); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *LocalStore) findTask(b *Board, id string) (*Task, *Column, int) {
	for ci := range b.Columns {
		for ti := range b.Columns[ci].Tasks {
			if b.Columns[ci].Tasks[ti].ID == id {
				return &b.Columns[ci].Tasks[ti], &b.Columns[ci], ti
			}
		}
	}
	return nil, nil, -1
}

func (s *LocalStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.readLocked()
	if err != nil {
		return err
	}
	t, _, _ := s.findTask(b, id)
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
	return s.writeLocked(b)
}

func (s *LocalStore) MoveTask(ctx context.Context, id string, targetColumnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.readLocked()
	if err != nil {
		return err
	}
	t, col, idx := s.findTask(b, id)
	if t == nil {
		return &StoreError{Op: "MoveTask", Status: 404, Err: fmt.Errorf("task %s not found", id)}
	}
	moved := *t
	now := time.Now()
	moved.MovedAt = &now

	targetFound := false
	for i := range b.Columns {
		if b.Columns[i].ID == targetColumnID {
			b.Columns[i].Tasks = append(b.Columns[i].Tasks, moved)
			targetFound = true
			break
		}
	}
	if !targetFound {
		return &StoreError{Op: "MoveTask", Status: 404, Err: fmt.Errorf("column %s not found", targetColumnID)}
	}
	col.Tasks = append(col.Tasks[:idx], col.Tasks[idx+1:]...)
	return s.writeLocked(b)
}

func (s *LocalStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.readLocked()
	if err != nil {
		return err
	}
	_, col, idx := s.findTask(b, id)
	if col == nil {
		return &StoreError{Op: "DeleteTask", Status: 404, Err: fmt.Errorf("task %s not found", id)}
	}
	col.Tasks = append(col.Tasks[:idx], col.Tasks[idx+1:]...)
	return s.writeLocked(b)
}

func (s *LocalStore) ListColumns(ctx context.Context) ([]Column, error) {
	b, err := s.GetBoard(ctx)
	if err != nil {
		return nil, err
	}
	return b.Columns, nil
}

func (s *LocalStore) CreateColumn(ctx context.Context, title string) (*Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	col := Column{ID: uuid.New().String(), Title: title, Tasks: []Task{}}
	b.Columns = append(b.Columns, col)
	if err := s.writeLocked(b); err != nil {
		return nil, err
	}
	return &col, nil
}

var _ Store = (*LocalStore)(nil)
