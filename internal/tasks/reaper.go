package tasks

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically reverts claimed tasks whose lease expired back to
// pending. It runs on every instance; the update is idempotent so multiple
// reapers are harmless.
type Reaper struct {
	queue    Queue
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a reaper. Interval defaults to 30 seconds.
func NewReaper(queue Queue, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		queue:    queue,
		interval: interval,
		logger:   logger.With("component", "task-reaper"),
	}
}

// Start begins the background reaper goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := r.queue.ReapExpiredLeases(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Warn("lease reap failed", "error", err)
					}
					continue
				}
				if n > 0 {
					r.logger.Info("reaped expired task leases", "count", n)
				}
			}
		}
	}()
	r.logger.Info("task reaper started", "interval", r.interval)
}

// Stop cancels the reaper and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
	r.logger.Info("task reaper stopped")
}
