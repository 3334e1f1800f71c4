package leads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps leads in process for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	leads []Lead
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(_ context.Context, lead Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.EndedAt.IsZero() {
		lead.EndedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, lead)
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, limit int) ([]Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.leads) {
		limit = len(s.leads)
	}
	out := make([]Lead, 0, limit)
	for i := len(s.leads) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.leads[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
