// Package store provides thread item persistence implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/threadstream/core"
)

// itemKey scopes stored items to their thread so equal item ids in different
// threads never collide.
type itemKey struct {
	threadID string
	id       string
}

// InMemoryStore is a volatile ItemStore implementation keeping thread items in
// a process local map keyed by (thread id, item id). It is safe for concurrent
// access and best suited for tests or ephemeral demo servers. Each returned
// item is cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[itemKey]*core.ThreadItem
}

// NewInMemoryStore constructs an empty in-memory item store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[itemKey]*core.ThreadItem)}
}

// Upsert stores a clone of the provided item snapshot, creating or replacing
// the entry keyed by its thread and item ids.
func (s *InMemoryStore) Upsert(_ context.Context, item core.ThreadItem) error {
	if item.ID == "" {
		return fmt.Errorf("upsert thread item: missing id")
	}
	if item.ThreadID == "" {
		return fmt.Errorf("upsert thread item %q: missing thread id", item.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[itemKey{threadID: item.ThreadID, id: item.ID}] = item.Clone()
	return nil
}

// Get returns a clone of the item with the given id within threadID.
func (s *InMemoryStore) Get(_ context.Context, threadID, id string) (*core.ThreadItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemKey{threadID: threadID, id: id}]
	if !ok {
		return nil, fmt.Errorf("thread item %q not found in thread %q", id, threadID)
	}
	return item.Clone(), nil
}

// List returns clones of all items belonging to threadID, oldest first.
func (s *InMemoryStore) List(_ context.Context, threadID string) ([]*core.ThreadItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.ThreadItem
	for _, item := range s.items {
		if item.ThreadID == threadID {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
