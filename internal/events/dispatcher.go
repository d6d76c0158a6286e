package events

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Backend consumes events. Handle errors are the backend's problem to retry;
// the dispatcher logs and moves on.
type Backend interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
	HealthCheck(ctx context.Context) error
}

// Dispatcher fans committed events out to every backend. Each backend gets a
// set of sharded bounded queues; an event is routed by hashing its entity id,
// so events for one entity reach a backend in order while different entities
// proceed in parallel. A full shard drops its oldest event and counts it.
type Dispatcher struct {
	backends  []Backend
	shards    int
	queueSize int
	logger    *slog.Logger

	queues  map[string][]chan Event
	dropped atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOptions tune the queue topology. Zero values pick defaults.
type DispatcherOptions struct {
	Shards    int
	QueueSize int
}

// NewDispatcher creates a dispatcher over the given backends. Call Start to
// begin delivery.
func NewDispatcher(backends []Backend, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.Shards <= 0 {
		opts.Shards = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	d := &Dispatcher{
		backends:  backends,
		shards:    opts.Shards,
		queueSize: opts.QueueSize,
		logger:    logger.With("component", "events"),
		queues:    make(map[string][]chan Event, len(backends)),
	}
	for _, b := range backends {
		shards := make([]chan Event, d.shards)
		for i := range shards {
			shards[i] = make(chan Event, d.queueSize)
		}
		d.queues[b.Name()] = shards
	}
	return d
}

// Start launches one consumer goroutine per (backend, shard).
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for _, b := range d.backends {
		for _, queue := range d.queues[b.Name()] {
			d.wg.Add(1)
			go d.consume(ctx, b, queue)
		}
	}
	d.logger.Info("event dispatcher started",
		"backends", len(d.backends), "shards", d.shards)
}

// Stop cancels delivery and waits for consumers to drain their current event.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("event dispatcher stopped", "dropped", d.dropped.Load())
}

func (d *Dispatcher) consume(ctx context.Context, b Backend, queue <-chan Event) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-queue:
			if err := b.Handle(ctx, ev); err != nil {
				d.logger.Warn("event backend failed",
					"backend", b.Name(), "kind", ev.Kind(), "entity", ev.EntityID(), "error", err)
			}
		}
	}
}

// Emit routes the event to every backend without blocking. When a shard is
// full the oldest queued event is evicted to make room.
func (d *Dispatcher) Emit(ev Event) {
	shard := shardOf(ev.EntityID(), d.shards)
	for _, b := range d.backends {
		queue := d.queues[b.Name()][shard]
		for {
			select {
			case queue <- ev:
			default:
				// full: evict the oldest and retry
				select {
				case <-queue:
					d.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Dropped reports how many events were evicted from full queues.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// HealthCheck probes every backend and returns the first failure.
func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	for _, b := range d.backends {
		if err := b.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

func shardOf(entityID string, shards int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(shards))
}
