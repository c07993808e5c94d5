package postgres

import (
	"context"
	"fmt"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// LockManager provides per-source crawl locks backed by a table with a
// primary key on source_id. Acquire is non-blocking and safe across
// independent worker processes.
type LockManager struct {
	db     DB
	holder string
	clock  harvest.Clock
}

// NewLockManager builds a lock manager. Holder identifies this worker in
// lock rows for debugging stuck crawls.
func NewLockManager(db DB, holder string, clock harvest.Clock) (*LockManager, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if holder == "" {
		return nil, fmt.Errorf("lock holder is required")
	}
	return &LockManager{db: db, holder: holder, clock: clock}, nil
}

// Acquire takes the lock for a source, returning ErrLockBusy when another
// holder already has it.
func (m *LockManager) Acquire(ctx context.Context, sourceID string) (harvest.Lock, error) {
	now := m.clock.Now()
	query := `
INSERT INTO crawl_locks (source_id, holder, locked_at)
VALUES ($1, $2, $3)
ON CONFLICT (source_id) DO NOTHING`
	tag, err := m.db.Exec(ctx, query, sourceID, m.holder, now)
	if err != nil {
		return harvest.Lock{}, fmt.Errorf("acquire crawl lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.Lock{}, harvest.ErrLockBusy
	}
	return harvest.Lock{SourceID: sourceID, Holder: m.holder, LockedAt: now}, nil
}

// Release drops the lock. Locks held by other workers are left alone.
func (m *LockManager) Release(ctx context.Context, lock harvest.Lock) error {
	query := `DELETE FROM crawl_locks WHERE source_id = $1 AND holder = $2`
	if _, err := m.db.Exec(ctx, query, lock.SourceID, lock.Holder); err != nil {
		return fmt.Errorf("release crawl lock: %w", err)
	}
	return nil
}
