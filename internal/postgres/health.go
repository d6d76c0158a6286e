package postgres

import "context"

// HealthCheck verifies database connectivity with a trivial query.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
}
