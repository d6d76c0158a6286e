package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Sink is the store side of the flusher.
type Sink interface {
	RecordEndpointStats(ctx context.Context, buckets []domain.EndpointStatBucket) error
	SetScalar(ctx context.Context, key string, value []byte) error
}

// scalarLastFlush is the watermark key recording the last successful flush.
const scalarLastFlush = "endpoint-stats-last-flush"

// Flusher is the background daemon draining the tracker into the sink.
type Flusher struct {
	tracker  *Tracker
	sink     Sink
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFlusher creates a flusher. Interval defaults to 30 seconds.
func NewFlusher(tracker *Tracker, sink Sink, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Flusher{
		tracker:  tracker,
		sink:     sink,
		interval: interval,
		logger:   logger.With("component", "stats-flusher"),
	}
}

// Start begins the background flush goroutine.
func (f *Flusher) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// final drain with a short grace period
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				f.Flush(flushCtx)
				cancel()
				return
			case <-ticker.C:
				f.Flush(ctx)
			}
		}
	}()
	f.logger.Info("stats flusher started", "interval", f.interval)
}

// Stop cancels the daemon and waits for the final drain.
func (f *Flusher) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	if f.done != nil {
		<-f.done
	}
	f.logger.Info("stats flusher stopped")
}

// Flush drains the tracker once. On sink failure the buckets are lost; the
// counters are process-local hints, not an audit log.
func (f *Flusher) Flush(ctx context.Context) {
	buckets := f.tracker.Drain()
	if len(buckets) == 0 {
		return
	}
	if err := f.sink.RecordEndpointStats(ctx, buckets); err != nil {
		f.logger.Warn("endpoint stats flush failed", "buckets", len(buckets), "error", err)
		return
	}
	watermark, _ := json.Marshal(map[string]time.Time{"at": time.Now().UTC()})
	if err := f.sink.SetScalar(ctx, scalarLastFlush, watermark); err != nil {
		f.logger.Warn("stats watermark update failed", "error", err)
	}
}
