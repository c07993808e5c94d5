package memory

import (
	"context"
	"sync"
	"time"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// LockManager provides non-blocking per-source locks for single-process
// deployments and tests.
type LockManager struct {
	holder string
	clock  harvest.Clock

	mu    sync.Mutex
	locks map[string]harvest.Lock
}

// NewLockManager creates a lock manager identifying itself as holder.
func NewLockManager(holder string, clock harvest.Clock) *LockManager {
	return &LockManager{
		holder: holder,
		clock:  clock,
		locks:  make(map[string]harvest.Lock),
	}
}

// Acquire takes the source lock or returns ErrLockBusy without blocking.
func (m *LockManager) Acquire(_ context.Context, sourceID string) (harvest.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[sourceID]; held {
		return harvest.Lock{}, harvest.ErrLockBusy
	}
	lock := harvest.Lock{
		SourceID: sourceID,
		Holder:   m.holder,
		LockedAt: m.clock.Now(),
	}
	m.locks[sourceID] = lock
	return lock, nil
}

// Release frees the lock. Releasing a lock held by someone else is a no-op.
func (m *LockManager) Release(_ context.Context, lock harvest.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.locks[lock.SourceID]
	if !ok || held.Holder != lock.Holder {
		return nil
	}
	delete(m.locks, lock.SourceID)
	return nil
}

// HeldSince reports when the source lock was taken, for stale-lock sweeps.
func (m *LockManager) HeldSince(sourceID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sourceID]
	if !ok {
		return time.Time{}, false
	}
	return lock.LockedAt, true
}
