package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/pkg/distlock"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// janitorLockKey names the distlock key janitors across every
// statusd/syncworker process contend for, so only one of them reclaims
// stale jobs at a time (spec §4.1's janitor pass, run fleet-wide).
const janitorLockKey = "sync:queue:janitor"

// janitorLockTTL bounds how long a janitor holds the lock even if it
// crashes mid-pass; must exceed one ReclaimStale call comfortably.
const janitorLockTTL = 30 * time.Second

// Janitor periodically reclaims stale Running jobs back to Queued,
// coordinating across however many dispatcher processes are deployed via
// a distributed lock so only one of them does the reclaim at a time
// (mirrors the teacher's internal/pkg/distlock use for cross-host
// mutual exclusion in campaign_scheduler.go).
type Janitor struct {
	queue *Queue
	lock  distlock.DistLock
}

// NewJanitor builds a Janitor. lock may come from distlock.NewLock with
// either a Redis client or, absent one, a *sql.DB for the Postgres
// advisory-lock fallback.
func NewJanitor(q *Queue, lock distlock.DistLock) *Janitor {
	return &Janitor{queue: q, lock: lock}
}

// RunOnce attempts one reclaim pass. It is a no-op, not an error, when
// another process currently holds the lock.
func (j *Janitor) RunOnce(ctx context.Context) error {
	acquired, err := j.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire janitor lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer j.lock.Release(ctx)

	n, err := j.queue.ReclaimStale(ctx)
	if err != nil {
		return fmt.Errorf("reclaim stale jobs: %w", err)
	}
	if n > 0 {
		logger.Info("janitor reclaimed stale jobs", "count", n)
	}
	return nil
}

// RunLoop calls RunOnce every interval until ctx is cancelled.
func (j *Janitor) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				logger.Error("janitor run failed", "error", err)
			}
		}
	}
}
