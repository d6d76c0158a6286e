package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// ServerInfo returns the deployment singleton, or a synthetic
// open-for-bootstrap record when the server has not been bootstrapped yet.
func (q queries) ServerInfo(ctx context.Context) (*domain.Server, error) {
	var (
		id            uuid.UUID
		open          bool
		termsAccepted bool
	)
	err := q.db.QueryRow(ctx,
		`SELECT server_id, open_for_bootstrap, terms_accepted FROM server`,
	).Scan(&id, &open, &termsAccepted)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.Server{OpenForBootstrap: true}, nil
	}
	if err != nil {
		return nil, mapPgError(err, "server info", nil)
	}
	return &domain.Server{
		ServerID:         domain.ServerID(id),
		OpenForBootstrap: open,
		TermsAccepted:    termsAccepted,
	}, nil
}

// BootstrapServer creates the singleton and closes bootstrap. A second call
// fails with EntityAlreadyExists via the single_row unique constraint.
func (t *Tx) BootstrapServer(ctx context.Context, termsAccepted bool) (*domain.Server, error) {
	if !termsAccepted {
		return nil, domain.BadRequest("terms of use must be accepted to bootstrap")
	}
	srv := &domain.Server{
		ServerID:         domain.NewServerID(),
		OpenForBootstrap: false,
		TermsAccepted:    true,
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO server (server_id, open_for_bootstrap, terms_accepted) VALUES ($1, false, $2)`,
		uuid.UUID(srv.ServerID), termsAccepted)
	if err != nil {
		return nil, mapPgError(err, "bootstrap server", nil)
	}
	return srv, nil
}
