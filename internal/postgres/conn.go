// Package postgres implements the catalog store, task queue, endpoint
// statistics and secret backend on top of a single Postgres database.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Default pgxpool connection limits. Overridable via PoolOptions.
const (
	defaultMaxConns          = 25
	defaultMinConns          = 5
	defaultMaxConnLifetime   = 1 * time.Hour
	defaultMaxConnIdleTime   = 30 * time.Minute
	defaultHealthCheckPeriod = 1 * time.Minute
	defaultAcquireTimeout    = 5 * time.Second
)

// PoolOptions tunes the connection pool. Zero values fall back to defaults.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// AcquireTimeout bounds how long a handler blocks waiting for a free
	// connection.
	AcquireTimeout time.Duration
}

// NewPool creates a pgxpool.Pool from a connection string. The pool is
// bounded and fair: handlers block on acquisition up to AcquireTimeout.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MinConns = defaultMinConns
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	config.MaxConnLifetime = defaultMaxConnLifetime
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	config.MaxConnIdleTime = defaultMaxConnIdleTime
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	config.HealthCheckPeriod = defaultHealthCheckPeriod
	if opts.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = opts.HealthCheckPeriod
	}
	acquireTimeout := defaultAcquireTimeout
	if opts.AcquireTimeout > 0 {
		acquireTimeout = opts.AcquireTimeout
	}
	config.ConnConfig.ConnectTimeout = acquireTimeout

	slog.Info("pgxpool configured",
		"max_conns", config.MaxConns,
		"min_conns", config.MinConns,
		"max_conn_lifetime", config.MaxConnLifetime,
		"max_conn_idle_time", config.MaxConnIdleTime,
		"health_check_period", config.HealthCheckPeriod,
	)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
