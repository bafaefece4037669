// Package columns bootstraps the workflow columns (Queue, Agent WIP,
// Review) that the Task Runner and Spec Generator depend on, and caches
// their resolved ids.
package columns

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/DYAI2025/kanban-orchestrator/internal/board"
)

// orderedTitles is the logical bootstrap order: Agent WIP is inserted
// before Review, Review before Done.
var orderedTitles = []string{board.ColumnQueue, board.ColumnAgentWIP, board.ColumnReview}

// Cache holds the resolved column ids, refreshed from board titles —
// titles are authoritative, ids are a cache over them (spec 4.L).
type Cache struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{ids: make(map[string]string)}
}

// ID returns the cached id for a workflow column title, if resolved.
func (c *Cache) ID(title string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[title]
	return id, ok
}

func (c *Cache) set(title, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[title] = id
}

// Bootstrap ensures Queue, Agent WIP, and Review exist on the board, in
// that logical order relative to Done, creating and persisting any that
// are missing, then caches every resolved id.
func Bootstrap(ctx context.Context, store board.Store, cache *Cache) error {
	b, err := store.GetBoard(ctx)
	if err != nil {
		return fmt.Errorf("columns: get board: %w", err)
	}

	changed := false
	for _, title := range orderedTitles {
		if col, _ := b.ColumnByTitle(title); col != nil {
			cache.set(title, col.ID)
			continue
		}
		newCol := board.Column{ID: synthesizeID(), Title: title, Tasks: []board.Task{}}
		insertBefore(b, newCol, downstreamOf(b, title))
		cache.set(title, newCol.ID)
		changed = true
	}

	if !changed {
		return nil
	}
	if err := store.SaveBoard(ctx, b); err != nil {
		return fmt.Errorf("columns: save board: %w", err)
	}
	return nil
}

// Refresh re-resolves cached ids against the latest board without
// creating missing columns — used each Task Runner tick to recover from
// a column having been edited externally.
func Refresh(b *board.Board, cache *Cache) {
	for _, title := range orderedTitles {
		if col, _ := b.ColumnByTitle(title); col != nil {
			cache.set(title, col.ID)
		}
	}
}

// canonicalOrder is the full column sequence, Done included, used to
// find the nearest existing downstream anchor for a column being
// inserted — Done is never pushed after a workflow column (spec 3).
var canonicalOrder = []string{board.ColumnQueue, board.ColumnAgentWIP, board.ColumnReview, board.ColumnDone}

// downstreamOf returns the nearest column after title, in canonical
// order, that already exists on b — the anchor a newly created column
// must be inserted before. This keeps Queue and Agent WIP ahead of an
// already-existing Done even though they're bootstrapped before it,
// and ahead of any workflow column created earlier in the same pass.
// Returns "" (append at the end) only when nothing downstream exists.
func downstreamOf(b *board.Board, title string) string {
	idx := -1
	for i, t := range canonicalOrder {
		if t == title {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ""
	}
	for _, t := range canonicalOrder[idx+1:] {
		if col, _ := b.ColumnByTitle(t); col != nil {
			return t
		}
	}
	return ""
}

func insertBefore(b *board.Board, newCol board.Column, downstreamTitle string) {
	if downstreamTitle != "" {
		if _, idx := b.ColumnByTitle(downstreamTitle); idx >= 0 {
			b.Columns = append(b.Columns, board.Column{})
			copy(b.Columns[idx+1:], b.Columns[idx:])
			b.Columns[idx] = newCol
			return
		}
	}
	b.Columns = append(b.Columns, newCol)
}

// synthesizeID builds a numeric id from the wall clock plus a random
// suffix (spec 4.I).
func synthesizeID() string {
	return fmt.Sprintf("col-%d-%04d", time.Now().UnixNano(), rand.Intn(10000))
}
