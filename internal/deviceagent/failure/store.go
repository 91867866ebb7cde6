package failure

import (
	"context"
	"sync"
)

// Store persists the failure record across restarts.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// MemoryStore keeps the record in process memory.
type MemoryStore struct {
	mu  sync.Mutex
	rec Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	return nil
}
