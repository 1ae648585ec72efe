package audit

import (
	"context"
	"sync"
)

// Storage persists audit entries. Implementations must be idempotent on
// Entry.ID because outbox delivery is at-least-once.
type Storage interface {
	Store(ctx context.Context, entries ...Entry) error
}

// MemoryStorage keeps entries in memory.
type MemoryStorage struct {
	mu      sync.Mutex
	entries []Entry
	seen    map[string]struct{}
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{seen: make(map[string]struct{})}
}

func (s *MemoryStorage) Store(_ context.Context, entries ...Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.seen[e.ID]; ok {
			continue
		}
		s.seen[e.ID] = struct{}{}
		s.entries = append(s.entries, e)
	}
	return nil
}

// Entries returns a copy of stored entries in insertion order.
func (s *MemoryStorage) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
