// Package tasks runs the durable queue consumers: a polling worker per
// queue, a lease reaper, and the handlers for deferred purges and periodic
// statistics refresh.
package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Queue is the consumer side of the task store.
type Queue interface {
	ClaimTasks(ctx context.Context, queue string, max int, lease time.Duration) ([]domain.Task, error)
	HeartbeatTask(ctx context.Context, id domain.TaskID, lease time.Duration) error
	CompleteTask(ctx context.Context, id domain.TaskID) error
	FailTask(ctx context.Context, id domain.TaskID, maxAttempts int, retryDelay time.Duration) error
	ReapExpiredLeases(ctx context.Context) (int, error)
}

// Handler executes one queue's tasks.
type Handler interface {
	QueueName() string
	Execute(ctx context.Context, task domain.Task) error
}

// WorkerOptions tune the polling loop. Zero values pick defaults.
type WorkerOptions struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
}

func (o *WorkerOptions) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
}

// Worker polls one queue and executes its tasks. While a task runs, a
// sidecar goroutine heartbeats at a third of the lease so a healthy worker
// never loses it; a crashed worker stops heartbeating and the reaper returns
// the task to pending.
type Worker struct {
	queue   Queue
	handler Handler
	opts    WorkerOptions
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a worker for the handler's queue.
func NewWorker(queue Queue, handler Handler, opts WorkerOptions, logger *slog.Logger) *Worker {
	opts.defaults()
	return &Worker{
		queue:   queue,
		handler: handler,
		opts:    opts,
		logger:  logger.With("component", "task-worker", "queue", handler.QueueName()),
	}
}

// Start begins the polling goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()

		for {
			w.tick(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	w.logger.Info("task worker started", "poll_interval", w.opts.PollInterval)
}

// Stop cancels the worker and waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
	w.logger.Info("task worker stopped")
}

func (w *Worker) tick(ctx context.Context) {
	tasks, err := w.queue.ClaimTasks(ctx, w.handler.QueueName(), w.opts.BatchSize, w.opts.Lease)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("claim failed", "error", err)
		}
		return
	}
	for _, task := range tasks {
		w.run(ctx, task)
	}
}

func (w *Worker) run(ctx context.Context, task domain.Task) {
	taskCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		ticker := time.NewTicker(w.opts.Lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.HeartbeatTask(taskCtx, task.ID, w.opts.Lease); err != nil {
					w.logger.Warn("heartbeat failed, abandoning task",
						"task_id", task.ID, "error", err)
					stopHeartbeat()
					return
				}
			}
		}
	}()

	err := w.handler.Execute(taskCtx, task)
	stopHeartbeat()
	hb.Wait()

	// completion runs on the parent context so shutdown does not strand a
	// finished task in claimed state
	if err != nil {
		w.logger.Warn("task failed", "task_id", task.ID, "attempts", task.Attempts, "error", err)
		if ferr := w.queue.FailTask(ctx, task.ID, w.opts.MaxAttempts, w.opts.RetryDelay); ferr != nil {
			w.logger.Warn("fail transition failed", "task_id", task.ID, "error", ferr)
		}
		return
	}
	if cerr := w.queue.CompleteTask(ctx, task.ID); cerr != nil {
		w.logger.Warn("complete transition failed", "task_id", task.ID, "error", cerr)
	}
}
