// Package leader elects one catalog replica to run the background workers.
// The task queue claims work transactionally, so duplicate workers are safe
// but wasteful; electing a single runner keeps lease churn and statistics
// refreshes to one replica. Election rides on a Postgres advisory lock:
// the session that holds it is the leader, and Postgres releases the lock
// when that session dies.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// lockID keys the advisory lock. Distinct from the migration lock key.
const lockID int64 = 6650421907231

// DefaultRetryInterval is how often a follower retries the lock.
const DefaultRetryInterval = 30 * time.Second

// TryLock attempts to take the advisory lock. It reports true when this
// session now holds it.
type TryLock func(ctx context.Context) (bool, error)

// PoolLock adapts a pgx pool to TryLock using pg_try_advisory_lock. The
// lock is tied to the pooled session that acquired it, which the pool keeps
// open until Close.
func PoolLock(pool *pgxpool.Pool) TryLock {
	return func(ctx context.Context) (bool, error) {
		var acquired bool
		err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
		return acquired, err
	}
}

// OnElected starts the leader-only workers and returns the function that
// stops them when leadership ends.
type OnElected func(ctx context.Context) (stop func())

// Elector runs the election loop.
type Elector struct {
	tryLock   TryLock
	retry     time.Duration
	onElected OnElected
	logger    *slog.Logger

	mu       sync.Mutex
	isLeader bool
	stopFn   func()

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an elector. onElected receives a context that stays valid for
// the whole leadership term.
func New(tryLock TryLock, retry time.Duration, onElected OnElected, logger *slog.Logger) *Elector {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	return &Elector{
		tryLock:   tryLock,
		retry:     retry,
		onElected: onElected,
		logger:    logger.With("component", "leader"),
	}
}

// Start tries the lock once immediately, then keeps retrying on the
// configured interval until Stop.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		e.tryAcquire(ctx)

		ticker := time.NewTicker(e.retry)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.relinquish()
				return
			case <-ticker.C:
				e.tryAcquire(ctx)
			}
		}
	}()
}

// Stop ends the election loop. A leading replica stops its workers first.
func (e *Elector) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// IsLeader reports whether this replica currently leads.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

func (e *Elector) tryAcquire(ctx context.Context) {
	e.mu.Lock()
	leading := e.isLeader
	e.mu.Unlock()
	if leading {
		return
	}

	acquired, err := e.tryLock(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "advisory lock attempt failed", "error", err)
		return
	}
	if !acquired {
		return
	}

	e.logger.InfoContext(ctx, "elected leader, starting background workers")
	e.mu.Lock()
	e.isLeader = true
	e.mu.Unlock()

	stop := e.onElected(ctx)

	e.mu.Lock()
	e.stopFn = stop
	e.mu.Unlock()
}

// relinquish stops the leader-only workers. The advisory lock itself is
// released by Postgres when the holding session closes.
func (e *Elector) relinquish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isLeader {
		return
	}
	e.logger.Info("relinquishing leadership, stopping background workers")
	if e.stopFn != nil {
		e.stopFn()
		e.stopFn = nil
	}
	e.isLeader = false
}
