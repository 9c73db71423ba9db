package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryTokenStore is the in-process TokenStore implementation. It backs
// tests and short-lived sessions; durable deployments supply their own
// store through WithTokenStore.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	entries map[string]TokenSet
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: map[string]TokenSet{}}
}

func (s *MemoryTokenStore) Store(_ context.Context, accountID string, tokens TokenSet) error {
	if s == nil {
		return fmt.Errorf("core: token store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("core: account id is required")
	}

	s.mu.Lock()
	s.entries[accountID] = tokens.Clone()
	s.mu.Unlock()

	return nil
}

func (s *MemoryTokenStore) Retrieve(_ context.Context, accountID string) (TokenSet, error) {
	if s == nil {
		return TokenSet{}, fmt.Errorf("core: token store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return TokenSet{}, fmt.Errorf("core: account id is required")
	}

	s.mu.RLock()
	tokens, ok := s.entries[accountID]
	s.mu.RUnlock()

	if !ok {
		return TokenSet{}, ErrTokenSetNotFound
	}
	return tokens.Clone(), nil
}

func (s *MemoryTokenStore) Remove(_ context.Context, accountID string) error {
	if s == nil {
		return fmt.Errorf("core: token store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("core: account id is required")
	}

	s.mu.Lock()
	delete(s.entries, accountID)
	s.mu.Unlock()

	return nil
}
