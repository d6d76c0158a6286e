// Package secrets abstracts storage credential persistence. Warehouse rows
// hold only a secret id; the material itself lives in a backend selected at
// startup, either the catalog database or HashiCorp Vault.
package secrets

import (
	"context"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// Store persists opaque secret material keyed by SecretID.
type Store interface {
	// Store writes the material under a fresh id.
	Store(ctx context.Context, material []byte) (domain.SecretID, error)
	// Retrieve returns the material, or EntityNotFound.
	Retrieve(ctx context.Context, id domain.SecretID) ([]byte, error)
	// Delete removes the material. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id domain.SecretID) error
	// HealthCheck probes the backend.
	HealthCheck(ctx context.Context) error
}
