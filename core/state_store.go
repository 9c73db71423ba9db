package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultAuthStateTTL = 15 * time.Minute

// MemoryAuthStateStore keeps pending authorizations in process memory.
// Desktop deployments typically need nothing more: the state value only
// has to survive the browser round trip.
type MemoryAuthStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]PendingAuthorization
}

func NewMemoryAuthStateStore(ttl time.Duration) *MemoryAuthStateStore {
	if ttl <= 0 {
		ttl = defaultAuthStateTTL
	}
	return &MemoryAuthStateStore{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]PendingAuthorization{},
	}
}

func (s *MemoryAuthStateStore) Save(_ context.Context, pending PendingAuthorization) error {
	if s == nil {
		return fmt.Errorf("core: auth state store is not configured")
	}
	state := strings.TrimSpace(pending.State)
	if state == "" {
		return fmt.Errorf("core: auth state is required")
	}

	now := s.clock()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}
	if pending.ExpiresAt.IsZero() {
		pending.ExpiresAt = pending.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[state] = pending.clone()
	s.mu.Unlock()

	return nil
}

// Consume resolves and removes the pending authorization for state. The
// entry is deleted even when expired, so a state value never resolves twice.
func (s *MemoryAuthStateStore) Consume(_ context.Context, state string) (PendingAuthorization, error) {
	if s == nil {
		return PendingAuthorization{}, fmt.Errorf("core: auth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return PendingAuthorization{}, fmt.Errorf("core: auth state is required")
	}

	s.mu.Lock()
	pending, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return PendingAuthorization{}, fmt.Errorf("core: auth state not found")
	}
	if !pending.ExpiresAt.IsZero() && s.clock().After(pending.ExpiresAt) {
		return PendingAuthorization{}, fmt.Errorf("core: auth state expired")
	}

	return pending.clone(), nil
}

func (s *MemoryAuthStateStore) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
