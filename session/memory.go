package session

import (
	"context"
	"sync"
	"time"

	"github.com/creastat/hotline"
)

// memoryStore implements Store using an in-memory map with optimistic locking.
// States are copied on the way in and out so callers never share memory with
// the stored value.
type memoryStore struct {
	mu    sync.RWMutex
	calls map[string]*CallState
}

func newMemoryStore() *memoryStore {
	return &memoryStore{calls: make(map[string]*CallState)}
}

// Create implements Store.
func (s *memoryStore) Create(ctx context.Context, state *CallState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[state.ID]; exists {
		return hotline.ErrDuplicate
	}

	now := time.Now()
	state.CreatedAt = now
	state.UpdatedAt = now
	state.Version = 1

	s.calls[state.ID] = state.Clone()
	return nil
}

// Get implements Store.
func (s *memoryStore) Get(ctx context.Context, id string) (*CallState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.calls[id]
	if !exists {
		return nil, nil
	}
	return state.Clone(), nil
}

// Update implements Store.
func (s *memoryStore) Update(ctx context.Context, state *CallState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.calls[state.ID]
	if !exists {
		return hotline.ErrNotFound
	}
	if stored.Version != state.Version {
		return hotline.ErrVersionConflict
	}

	state.Version++
	state.UpdatedAt = time.Now()

	s.calls[state.ID] = state.Clone()
	return nil
}

// Delete implements Store.
func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.calls, id)
	return nil
}

// Close implements Store.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = make(map[string]*CallState)
	return nil
}
