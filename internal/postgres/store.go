package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
)

// dbconn is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same query helpers serve plain reads and transactional reads.
type dbconn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements catalog.Store backed by Postgres. Reads run directly on
// the pool; writes go through BeginWrite.
type Store struct {
	pool *pgxpool.Pool
	queries
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: queries{db: pool}}
}

// queries holds the read methods shared between Store and Tx.
type queries struct {
	db dbconn
}

// BeginWrite opens the request's write transaction.
func (s *Store) BeginWrite(ctx context.Context) (catalog.Transaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, mapPgError(err, "begin transaction", nil)
	}
	return &Tx{tx: tx, queries: queries{db: tx}}, nil
}

// Tx implements catalog.Transaction. Reads through the embedded queries see
// earlier writes in the same transaction.
type Tx struct {
	tx pgx.Tx
	queries
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapPgError(err, "commit transaction", nil)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || err == pgx.ErrTxClosed {
		return nil
	}
	return mapPgError(err, "rollback transaction", nil)
}
