// Package ratelimit provides per-client request throttling for the API
// surface. Buckets are in-memory and per instance; a load-balanced
// deployment rate-limits each replica independently.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes the limiter.
type Config struct {
	// RequestsPerSecond is the sustained refill rate per client key.
	RequestsPerSecond float64
	// Burst is the bucket capacity per client key.
	Burst int
	// IdleTimeout drops buckets that have not been touched for this long.
	IdleTimeout time.Duration
}

func (c *Config) defaults() {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 50
	}
	if c.Burst <= 0 {
		c.Burst = 100
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client key, typically the remote
// IP. Idle buckets are swept on the next Allow call that crosses the sweep
// interval, so the map does not grow with one-shot clients.
type Limiter struct {
	cfg Config

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func New(cfg Config) *Limiter {
	cfg.defaults()
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether the request identified by key may proceed, spending
// one token when it does.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.cfg.IdleTimeout {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.cfg.IdleTimeout {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// Len counts the live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
