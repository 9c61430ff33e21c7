package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aescanero/council/pkg/ports"
)

// InMemorySnapshotStore implements SnapshotStore in process memory
type InMemorySnapshotStore struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	latest    json.RawMessage
	expiresAt time.Time
}

// NewInMemorySnapshotStore creates a new in-memory snapshot store. A zero
// ttl keeps the snapshot forever.
func NewInMemorySnapshotStore(ttl time.Duration) *InMemorySnapshotStore {
	return &InMemorySnapshotStore{
		ttl: ttl,
		now: time.Now,
	}
}

// SaveLatest replaces the stored snapshot
func (s *InMemorySnapshotStore) SaveLatest(ctx context.Context, snapshot json.RawMessage) error {
	// Copy to avoid sharing the caller's buffer
	data := make(json.RawMessage, len(snapshot))
	copy(data, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = data
	if s.ttl > 0 {
		s.expiresAt = s.now().Add(s.ttl)
	}
	return nil
}

// LoadLatest returns the stored snapshot
func (s *InMemorySnapshotStore) LoadLatest(ctx context.Context) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return nil, ports.ErrSnapshotNotFound
	}
	if s.ttl > 0 && !s.now().Before(s.expiresAt) {
		return nil, ports.ErrSnapshotNotFound
	}
	return s.latest, nil
}
