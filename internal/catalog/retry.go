package catalog

import (
	"context"
	"math/rand"
	"time"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// retryBaseDelay is the backoff before the single retry of a conflicted
// write transaction. Jitter spreads out retries of colliding requests.
const retryBaseDelay = 25 * time.Millisecond

// RunWriteTx runs fn inside a write transaction. The transaction commits
// when fn returns nil and rolls back otherwise. A TransactionFailed error
// (serialization failure, deadlock, statement timeout) is retried exactly
// once after a jittered backoff; every other error is returned verbatim.
func RunWriteTx(ctx context.Context, store Store, fn func(tx Transaction) error) error {
	err := runOnce(ctx, store, fn)
	if err == nil || !domain.IsRetryable(err) {
		return err
	}

	delay := retryBaseDelay + time.Duration(rand.Int63n(int64(retryBaseDelay)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	return runOnce(ctx, store, fn)
}

func runOnce(ctx context.Context, store Store, fn func(tx Transaction) error) error {
	tx, err := store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
