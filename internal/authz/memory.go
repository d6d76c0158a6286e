package authz

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process relationship store used in tests and when
// no external policy engine is configured. Checks match tuples exactly; no
// userset rewriting is performed.
type MemoryBackend struct {
	mu     sync.RWMutex
	tuples map[TupleKey]struct{}
	// failing simulates a backend outage for health-path tests
	failing bool
}

// NewMemoryBackend creates an empty in-memory relationship store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tuples: make(map[TupleKey]struct{})}
}

func (m *MemoryBackend) CheckRelation(ctx context.Context, key TupleKey, consistency Consistency) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing {
		return false, errBackendDown
	}
	_, ok := m.tuples[key]
	return ok, nil
}

func (m *MemoryBackend) WriteTuples(ctx context.Context, writes, deletes []TupleKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errBackendDown
	}
	for _, k := range deletes {
		delete(m.tuples, k)
	}
	for _, k := range writes {
		m.tuples[k] = struct{}{}
	}
	return nil
}

func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing {
		return errBackendDown
	}
	return nil
}

func (m *MemoryBackend) Name() string { return "memory" }

// SetFailing toggles simulated unavailability.
func (m *MemoryBackend) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

type backendError string

func (e backendError) Error() string { return string(e) }

const errBackendDown = backendError("relationship backend unavailable")
