package health_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/health"
)

func TestMonitorProbesOnStart(t *testing.T) {
	m := health.NewMonitor(health.MonitorOptions{Interval: time.Hour}, slog.Default())
	m.Register("database", health.CheckerFunc(func(context.Context) error { return nil }))
	m.Register("authz", health.CheckerFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))

	m.Start(context.Background())
	defer m.Stop()

	assert.False(t, m.Healthy())
	snapshot := m.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "database", snapshot[0].Name)
	assert.True(t, snapshot[0].Healthy)
	assert.Equal(t, "authz", snapshot[1].Name)
	assert.False(t, snapshot[1].Healthy)
	assert.Contains(t, snapshot[1].Error, "connection refused")
	assert.False(t, snapshot[1].CheckedAt.IsZero())
}

func TestMonitorReprobesOnInterval(t *testing.T) {
	var calls atomic.Int32
	m := health.NewMonitor(health.MonitorOptions{Interval: 20 * time.Millisecond}, slog.Default())
	m.Register("flaky", health.CheckerFunc(func(context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("cold start")
		}
		return nil
	}))

	m.Start(context.Background())
	defer m.Stop()

	assert.False(t, m.Healthy())
	require.Eventually(t, m.Healthy, time.Second, 10*time.Millisecond)
}

func TestMonitorProbeTimeout(t *testing.T) {
	m := health.NewMonitor(health.MonitorOptions{
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
	}, slog.Default())
	m.Register("slow", health.CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	m.Start(context.Background())
	defer m.Stop()

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, m.Healthy())
}
