package board

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteStoreRetriesWithoutAuthOn401(t *testing.T) {
	var sawAuthHeader, sawSecondRequest bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			sawAuthHeader = true
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sawSecondRequest = true
		json.NewEncoder(w).Encode(Board{Columns: []Column{}, Backlog: []BacklogProject{}})
	}))
	defer srv.Close()

	s := NewRemoteStore(srv.URL, "secret-token", 0)
	b, err := s.GetBoard(t.Context())
	if err != nil {
		t.Fatalf("GetBoard: %v", err)
	}
	if !sawAuthHeader {
		t.Fatal("expected first request to carry the bearer token")
	}
	if !sawSecondRequest {
		t.Fatal("expected a retry without the Authorization header after 401")
	}
	if b == nil {
		t.Fatal("expected a board on successful retry")
	}
}

func TestRemoteStoreSaveBoardPreservesBacklog(t *testing.T) {
	serverBoard := Board{
		Columns: []Column{{ID: "c1", Title: ColumnQueue}},
		Backlog: []BacklogProject{{ID: "p1", Title: "keep me", SpecStatus: SpecReady}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/board":
			json.NewEncoder(w).Encode(serverBoard)
		case r.Method == http.MethodPost && r.URL.Path == "/api/board":
			var posted Board
			json.NewDecoder(r.Body).Decode(&posted)
			if len(posted.Backlog) != 1 || posted.Backlog[0].ID != "p1" {
				t.Errorf("expected posted board to carry preserved backlog, got %+v", posted.Backlog)
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewRemoteStore(srv.URL, "", 0)
	clientSideEdit := Board{Columns: []Column{{ID: "c1", Title: ColumnQueue, Tasks: []Task{{ID: "t1"}}}}}
	if err := s.SaveBoard(t.Context(), &clientSideEdit); err != nil {
		t.Fatalf("SaveBoard: %v", err)
	}
}

func TestRemoteStoreNon2xxSurfacesStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	s := NewRemoteStore(srv.URL, "", 0)
	_, err := s.GetBoard(t.Context())
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StoreError
	if !asStoreError(err, &se) {
		t.Fatalf("expected *StoreError, got %T: %v", err, err)
	}
	if se.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", se.Status)
	}
}

func asStoreError(err error, target **StoreError) bool {
	if se, ok := err.(*StoreError); ok {
		*target = se
		return true
	}
	return false
}
