package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// Budget meters AI fallback calls against a daily cap. Take consumes one
// call or returns ErrAIBudgetExceeded; the counter resets at UTC midnight.
type Budget interface {
	Take(ctx context.Context) error
}

// RedisBudget shares the daily counter across worker processes through a
// per-day Redis key.
type RedisBudget struct {
	client *redis.Client
	limit  int
	clock  harvest.Clock
}

// NewRedisBudget builds a Redis-backed budget.
func NewRedisBudget(client *redis.Client, limit int, clock harvest.Clock) *RedisBudget {
	return &RedisBudget{client: client, limit: limit, clock: clock}
}

// Take increments today's counter and fails when it passes the limit. The
// key expires after 48h so stale days clean themselves up.
func (b *RedisBudget) Take(ctx context.Context) error {
	key := fmt.Sprintf("ai_budget:%s", b.clock.Now().UTC().Format("2006-01-02"))
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("incrementing ai budget counter: %w", err)
	}
	if count == 1 {
		b.client.Expire(ctx, key, 48*time.Hour)
	}
	if count > int64(b.limit) {
		return harvest.ErrAIBudgetExceeded
	}
	return nil
}

// MemoryBudget meters calls in-process, for single-instance deployments and
// tests.
type MemoryBudget struct {
	limit int
	clock harvest.Clock

	mu    sync.Mutex
	day   string
	count int
}

// NewMemoryBudget builds an in-process budget.
func NewMemoryBudget(limit int, clock harvest.Clock) *MemoryBudget {
	return &MemoryBudget{limit: limit, clock: clock}
}

// Take consumes one call from today's budget.
func (b *MemoryBudget) Take(_ context.Context) error {
	day := b.clock.Now().UTC().Format("2006-01-02")

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.day != day {
		b.day = day
		b.count = 0
	}
	if b.count >= b.limit {
		return harvest.ErrAIBudgetExceeded
	}
	b.count++
	return nil
}
