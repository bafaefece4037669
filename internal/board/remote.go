package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteStore is an HTTP client over the board CRUD surface described in
// spec section 6. It carries a bearer token but tolerates the deployed
// CRUD's anonymous mode: any 401 response that was sent with a token is
// retried once without it.
type RemoteStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemoteStore creates a client against baseURL (no trailing slash
// required). timeout defaults to 30s per spec 5 ("≤ 30 s board") if zero.
func NewRemoteStore(baseURL, token string, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteStore{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *RemoteStore) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &StoreError{Op: method + " " + path, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	resp, err := s.send(ctx, method, path, reader, true)
	if err != nil {
		return &StoreError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && s.token != "" {
		// 401-retry-without-auth escape hatch (spec 4.A): the deployed
		// CRUD tolerates anonymous clients.
		if reader != nil {
			data, _ := json.Marshal(body)
			reader = bytes.NewReader(data)
		}
		resp.Body.Close()
		resp, err = s.send(ctx, method, path, reader, false)
		if err != nil {
			return &StoreError{Op: method + " " + path, Err: err}
		}
		defer resp.Body.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &StoreError{Op: method + " " + path, Status: resp.StatusCode, Err: fmt.Errorf("%s", string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &StoreError{Op: method + " " + path, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func (s *RemoteStore) send(ctx context.Context, method, path string, body io.Reader, withAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withAuth && s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return s.client.Do(req)
}

func (s *RemoteStore) GetBoard(ctx context.Context) (*Board, error) {
	var b Board
	if err := s.do(ctx, http.MethodGet, "/api/board", nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *RemoteStore) SaveBoard(ctx context.Context, b *Board) error {
	cur, err := s.GetBoard(ctx)
	if err != nil {
		return err
	}
	next := *b
	preserveBacklog(cur, &next)
	return s.do(ctx, http.MethodPost, "/api/board", &next, nil)
}

func (s *RemoteStore) ListBacklog(ctx context.Context) ([]BacklogProject, error) {
	var list []BacklogProject
	if err := s.do(ctx, http.MethodGet, "/api/backlog", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *RemoteStore) GetBacklogProject(ctx context.Context, id string) (*BacklogProject, error) {
	var p BacklogProject
	if err := s.do(ctx, http.MethodGet, "/api/backlog/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RemoteStore) UpdateBacklog(ctx context.Context, id string, patch BacklogPatch) error {
	body := map[string]interface{}{}
	if patch.SpecStatus != nil {
		body["specStatus"] = *patch.SpecStatus
	}
	if patch.Spec != nil {
		body["spec"] = *patch.Spec
	}
	if patch.SpecTasks != nil {
		body["specTasks"] = patch.SpecTasks
	}
	return s.do(ctx, http.MethodPut, "/api/backlog/"+id, body, nil)
}

func (s *RemoteStore) ListTasks(ctx context.Context) ([]Task, error) {
	var list []Task
	if err := s.do(ctx, http.MethodGet, "/api/tasks", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *RemoteStore) CreateTask(ctx context.Context, columnID string, t Task) (*Task, error) {
	body := map[string]interface{}{
		"columnId":    columnID,
		"title":       t.Title,
		"description": t.Description,
		"color":       t.Color,
	}
	var created Task
	if err := s.do(ctx, http.MethodPost, "/api/tasks", body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *RemoteStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	body := map[string]interface{}{}
	if patch.Title != nil {
		body["title"] = *patch.Title
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.Color != nil {
		body["color"] = *patch.Color
	}
	return s.do(ctx, http.MethodPut, "/api/tasks/"+id, body, nil)
}

func (s *RemoteStore) MoveTask(ctx context.Context, id string, targetColumnID string) error {
	body := map[string]interface{}{"targetColumnId": targetColumnID}
	return s.do(ctx, http.MethodPut, "/api/tasks/"+id+"/move", body, nil)
}

func (s *RemoteStore) DeleteTask(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil)
}

func (s *RemoteStore) ListColumns(ctx context.Context) ([]Column, error) {
	var list []Column
	if err := s.do(ctx, http.MethodGet, "/api/columns", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *RemoteStore) CreateColumn(ctx context.Context, title string) (*Column, error) {
	body := map[string]interface{}{"title": title}
	var created Column
	if err := s.do(ctx, http.MethodPost, "/api/columns", body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

var _ Store = (*RemoteStore)(nil)
