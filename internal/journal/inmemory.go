package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultCapacity = 512

// InMemoryStore keeps the most recent entries in a bounded slice.
type InMemoryStore struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryStore{capacity: capacity}
}

func (s *InMemoryStore) Append(_ context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return entry, nil
}

func (s *InMemoryStore) Recent(_ context.Context, kind Kind, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit, s.capacity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, min(limit, len(s.entries)))
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if kind != "" && s.entries[i].Kind != kind {
			continue
		}
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
