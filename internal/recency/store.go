package recency

import (
	"context"
	"sync"
)

// Store persists the recency list under a per-user key.
type Store interface {
	Save(ctx context.Context, userID string, entries []Entry) error
	Load(ctx context.Context, userID string) ([]Entry, error)
}

// MemoryStore keeps recency lists in process memory. Used by tests and as
// a fallback when no durable path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (s *MemoryStore) Save(ctx context.Context, userID string, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]Entry, len(entries))
	copy(copied, entries)
	s.entries[userID] = copied
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, userID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.entries[userID]
	if !ok {
		return nil, nil
	}
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	return copied, nil
}
