package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultRefreshLockTTL = 30 * time.Second

// MemoryAccountLocker is the in-process AccountLocker. Locks expire after
// their TTL so a crashed holder cannot wedge refreshes forever.
type MemoryAccountLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryAccountLocker() *MemoryAccountLocker {
	return &MemoryAccountLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryAccountLocker) Acquire(_ context.Context, accountID string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: account locker is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("core: account id is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[accountID]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for account %q", accountID)
	}
	l.locks[accountID] = now.Add(ttl)
	return &memoryLockHandle{locker: l, accountID: accountID}, nil
}

type memoryLockHandle struct {
	locker    *MemoryAccountLocker
	accountID string
	once      sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.accountID)
		h.locker.mu.Unlock()
	})
	return nil
}
