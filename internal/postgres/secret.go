package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// SecretStore implements secrets.Store in the catalog database. The default
// backend when no Vault is configured.
type SecretStore struct {
	pool *pgxpool.Pool
}

// NewSecretStore creates a SecretStore backed by the given pool.
func NewSecretStore(pool *pgxpool.Pool) *SecretStore {
	return &SecretStore{pool: pool}
}

func (s *SecretStore) Store(ctx context.Context, material []byte) (domain.SecretID, error) {
	id := domain.NewSecretID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO secret (secret_id, secret) VALUES ($1, $2)`,
		uuid.UUID(id), material)
	if err != nil {
		return domain.SecretID{}, mapPgError(err, "store secret", nil)
	}
	return id, nil
}

func (s *SecretStore) Retrieve(ctx context.Context, id domain.SecretID) ([]byte, error) {
	var material []byte
	err := s.pool.QueryRow(ctx,
		`SELECT secret FROM secret WHERE secret_id = $1`, uuid.UUID(id),
	).Scan(&material)
	if err != nil {
		return nil, mapPgError(err, "retrieve secret", domain.NotFound("secret %s not found", id))
	}
	return material, nil
}

func (s *SecretStore) Delete(ctx context.Context, id domain.SecretID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM secret WHERE secret_id = $1`, uuid.UUID(id))
	if err != nil {
		return mapPgError(err, "delete secret", nil)
	}
	return nil
}

func (s *SecretStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
