package leader_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/leader"
)

type fakeLock struct {
	mu       sync.Mutex
	acquired bool
	err      error
	calls    int
}

func (l *fakeLock) tryLock(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.acquired, l.err
}

func (l *fakeLock) setAcquired(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = v
}

func (l *fakeLock) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestElectorBecomesLeaderOnFirstTry(t *testing.T) {
	lock := &fakeLock{acquired: true}
	var elected atomic.Bool

	e := leader.New(lock.tryLock, time.Minute, func(context.Context) func() {
		elected.Store(true)
		return func() {}
	}, testLogger())
	e.Start(t.Context())
	defer e.Stop()

	require.Eventually(t, elected.Load, time.Second, 5*time.Millisecond)
	assert.True(t, e.IsLeader())
}

func TestElectorFollowsWhileLockHeld(t *testing.T) {
	lock := &fakeLock{acquired: false}
	var elected atomic.Bool

	e := leader.New(lock.tryLock, 10*time.Millisecond, func(context.Context) func() {
		elected.Store(true)
		return func() {}
	}, testLogger())
	e.Start(t.Context())
	defer e.Stop()

	// Let the immediate attempt and at least one retry happen.
	require.Eventually(t, func() bool { return lock.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, elected.Load())
	assert.False(t, e.IsLeader())
}

func TestElectorTakesOverWhenLockFrees(t *testing.T) {
	lock := &fakeLock{acquired: false}
	var elected atomic.Bool

	e := leader.New(lock.tryLock, 10*time.Millisecond, func(context.Context) func() {
		elected.Store(true)
		return func() {}
	}, testLogger())
	e.Start(t.Context())
	defer e.Stop()

	require.Eventually(t, func() bool { return lock.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	require.False(t, e.IsLeader())

	lock.setAcquired(true)
	require.Eventually(t, elected.Load, time.Second, 5*time.Millisecond)
	assert.True(t, e.IsLeader())
}

func TestElectorSurvivesLockErrors(t *testing.T) {
	lock := &fakeLock{err: errors.New("connection refused")}
	var elected atomic.Bool

	e := leader.New(lock.tryLock, 10*time.Millisecond, func(context.Context) func() {
		elected.Store(true)
		return func() {}
	}, testLogger())
	e.Start(t.Context())
	defer e.Stop()

	require.Eventually(t, func() bool { return lock.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, elected.Load())
	assert.False(t, e.IsLeader())
}

func TestElectorStopHaltsWorkers(t *testing.T) {
	lock := &fakeLock{acquired: true}
	var stopped atomic.Bool

	e := leader.New(lock.tryLock, time.Minute, func(context.Context) func() {
		return func() { stopped.Store(true) }
	}, testLogger())
	e.Start(t.Context())

	require.Eventually(t, e.IsLeader, time.Second, 5*time.Millisecond)
	e.Stop()

	assert.True(t, stopped.Load())
	assert.False(t, e.IsLeader())
}

func TestElectorElectsOnlyOnce(t *testing.T) {
	lock := &fakeLock{acquired: true}
	var elections atomic.Int32

	e := leader.New(lock.tryLock, 10*time.Millisecond, func(context.Context) func() {
		elections.Add(1)
		return func() {}
	}, testLogger())
	e.Start(t.Context())
	defer e.Stop()

	require.Eventually(t, e.IsLeader, time.Second, 5*time.Millisecond)
	// Sit through a few retry ticks; an established leader must not re-run
	// the election callback.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), elections.Load())
}

func TestElectorStopBeforeStart(t *testing.T) {
	e := leader.New((&fakeLock{}).tryLock, time.Minute, func(context.Context) func() {
		return func() {}
	}, testLogger())

	assert.False(t, e.IsLeader())
	e.Stop()
}
