// Package stats buffers endpoint counters in memory and flushes them to the
// catalog store on an interval, so request handling never writes a counter
// row synchronously.
package stats

import (
	"sync"
	"time"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// bucketKey identifies one counter.
type bucketKey struct {
	projectID   domain.ProjectID
	hasProject  bool
	warehouseID domain.WarehouseID
	hasWh       bool
	matchedPath string
	statusCode  int
}

// Tracker is the per-process counter map. Record is cheap and safe from any
// goroutine; Drain swaps the map out so flushing never holds the lock while
// talking to the database.
type Tracker struct {
	mu       sync.Mutex
	counters map[bucketKey]int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counters: make(map[bucketKey]int64)}
}

// Record increments the counter for one finished request.
func (t *Tracker) Record(project *domain.ProjectID, warehouse *domain.WarehouseID, matchedPath string, statusCode int) {
	key := bucketKey{matchedPath: matchedPath, statusCode: statusCode}
	if project != nil {
		key.projectID = *project
		key.hasProject = true
	}
	if warehouse != nil {
		key.warehouseID = *warehouse
		key.hasWh = true
	}
	t.mu.Lock()
	t.counters[key]++
	t.mu.Unlock()
}

// Drain returns the accumulated buckets and resets the tracker.
func (t *Tracker) Drain() []domain.EndpointStatBucket {
	t.mu.Lock()
	counters := t.counters
	t.counters = make(map[bucketKey]int64)
	t.mu.Unlock()

	if len(counters) == 0 {
		return nil
	}
	now := time.Now().UTC()
	buckets := make([]domain.EndpointStatBucket, 0, len(counters))
	for key, count := range counters {
		b := domain.EndpointStatBucket{
			MatchedPath: key.matchedPath,
			StatusCode:  key.statusCode,
			Count:       count,
			ValidUntil:  now.Truncate(time.Hour).Add(time.Hour),
		}
		if key.hasProject {
			p := key.projectID
			b.ProjectID = &p
		}
		if key.hasWh {
			w := key.warehouseID
			b.WarehouseID = &w
		}
		buckets = append(buckets, b)
	}
	return buckets
}
