// Package health runs periodic liveness probes against the pluggable
// backends and caches the results. Probing happens in the background so the
// health endpoint never blocks on a slow backend; it serves the last known
// state.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Checker is a probe against one subsystem.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Status is the last observed state of one probe.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked-at"`
}

type probe struct {
	name    string
	checker Checker
}

// MonitorOptions tunes the prober.
type MonitorOptions struct {
	Interval time.Duration // default 30s
	Timeout  time.Duration // per probe, default 5s
}

func (o *MonitorOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
}

// Monitor probes all registered checkers on an interval.
type Monitor struct {
	opts   MonitorOptions
	logger *slog.Logger
	probes []probe

	mu     sync.RWMutex
	status map[string]Status

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(opts MonitorOptions, logger *slog.Logger) *Monitor {
	opts.defaults()
	return &Monitor{
		opts:   opts,
		logger: logger.With("component", "health"),
		status: make(map[string]Status),
	}
}

// Register adds a named probe. Must be called before Start.
func (m *Monitor) Register(name string, checker Checker) {
	m.probes = append(m.probes, probe{name: name, checker: checker})
}

// Start probes once immediately, then on every interval until Stop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.probeAll(ctx)
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, p := range m.probes {
		probeCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
		err := p.checker.HealthCheck(probeCtx)
		cancel()

		status := Status{Name: p.name, Healthy: err == nil, CheckedAt: time.Now().UTC()}
		if err != nil {
			status.Error = err.Error()
			m.logger.Warn("health probe failed", "probe", p.name, "error", err)
		}
		m.mu.Lock()
		m.status[p.name] = status
		m.mu.Unlock()
	}
}

// Snapshot returns the last known status of every probe.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.probes))
	for _, p := range m.probes {
		if s, ok := m.status[p.name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Healthy reports whether every probe passed its last check.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.status {
		if !s.Healthy {
			return false
		}
	}
	return true
}
