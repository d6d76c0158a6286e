package stats_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/stats"
)

type memorySink struct {
	mu      sync.Mutex
	buckets []domain.EndpointStatBucket
	scalars map[string][]byte
}

func newMemorySink() *memorySink {
	return &memorySink{scalars: make(map[string][]byte)}
}

func (s *memorySink) RecordEndpointStats(ctx context.Context, buckets []domain.EndpointStatBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = append(s.buckets, buckets...)
	return nil
}

func (s *memorySink) SetScalar(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scalars[key] = value
	return nil
}

func (s *memorySink) all() []domain.EndpointStatBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EndpointStatBucket(nil), s.buckets...)
}

func TestTrackerMergesIdenticalKeys(t *testing.T) {
	tracker := stats.NewTracker()
	project := domain.ProjectID("p1")

	for i := 0; i < 5; i++ {
		tracker.Record(&project, nil, "GET /catalog/v1/config", 200)
	}
	tracker.Record(&project, nil, "GET /catalog/v1/config", 404)

	buckets := tracker.Drain()
	require.Len(t, buckets, 2)
	byStatus := map[int]int64{}
	for _, b := range buckets {
		byStatus[b.StatusCode] = b.Count
		require.NotNil(t, b.ProjectID)
		assert.Equal(t, project, *b.ProjectID)
		assert.False(t, b.ValidUntil.IsZero())
	}
	assert.Equal(t, int64(5), byStatus[200])
	assert.Equal(t, int64(1), byStatus[404])

	// drain resets
	assert.Empty(t, tracker.Drain())
}

func TestTrackerSeparatesWarehouses(t *testing.T) {
	tracker := stats.NewTracker()
	w1 := domain.NewWarehouseID()
	w2 := domain.NewWarehouseID()

	tracker.Record(nil, &w1, "GET /catalog/v1/{prefix}/namespaces", 200)
	tracker.Record(nil, &w2, "GET /catalog/v1/{prefix}/namespaces", 200)

	assert.Len(t, tracker.Drain(), 2)
}

func TestFlusherDrainsOnInterval(t *testing.T) {
	tracker := stats.NewTracker()
	sink := newMemorySink()
	f := stats.NewFlusher(tracker, sink, 10*time.Millisecond, slog.Default())

	tracker.Record(nil, nil, "GET /health", 200)
	f.Start(context.Background())
	defer f.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.all()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	buckets := sink.all()
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].Count)
}

func TestFlusherFinalDrainOnStop(t *testing.T) {
	tracker := stats.NewTracker()
	sink := newMemorySink()
	f := stats.NewFlusher(tracker, sink, time.Hour, slog.Default())

	f.Start(context.Background())
	tracker.Record(nil, nil, "GET /health", 200)
	f.Stop()

	require.Len(t, sink.all(), 1)
}
