package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process transcript store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	calls map[string][]Utterance
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{calls: make(map[string][]Utterance)}
}

func (s *InMemoryStore) SaveUtterance(_ context.Context, u Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.calls[u.CallSID] = append(s.calls[u.CallSID], u)
	return nil
}

func (s *InMemoryStore) CallTranscript(_ context.Context, callSID string, limit int) ([]Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.calls[callSID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Utterance, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
