package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

func (q queries) GetProject(ctx context.Context, id domain.ProjectID) (*domain.Project, error) {
	var p domain.Project
	var rawID string
	err := q.db.QueryRow(ctx,
		`SELECT project_id, project_name, created_at FROM project WHERE project_id = $1`,
		id.String(),
	).Scan(&rawID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, mapPgError(err, "get project", domain.NotFound("project %q not found", id))
	}
	p.ProjectID = domain.ProjectID(rawID)
	return &p, nil
}

func (q queries) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := q.db.Query(ctx,
		`SELECT project_id, project_name, created_at FROM project ORDER BY project_id`)
	if err != nil {
		return nil, mapPgError(err, "list projects", nil)
	}
	defer rows.Close()

	var result []domain.Project
	for rows.Next() {
		var (
			rawID, name string
			createdAt   time.Time
		)
		if err := rows.Scan(&rawID, &name, &createdAt); err != nil {
			return nil, mapPgError(err, "scan project", nil)
		}
		result = append(result, domain.Project{
			ProjectID: domain.ProjectID(rawID),
			Name:      name,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list projects", nil)
	}
	return result, nil
}

func (t *Tx) CreateProject(ctx context.Context, id domain.ProjectID, name string) (*domain.Project, error) {
	var p domain.Project
	err := t.tx.QueryRow(ctx,
		`INSERT INTO project (project_id, project_name) VALUES ($1, $2)
		 RETURNING project_name, created_at`,
		id.String(), name,
	).Scan(&p.Name, &p.CreatedAt)
	if err != nil {
		return nil, mapPgError(err, "create project", nil)
	}
	p.ProjectID = id
	return &p, nil
}

func (t *Tx) RenameProject(ctx context.Context, id domain.ProjectID, name string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE project SET project_name = $2 WHERE project_id = $1`,
		id.String(), name)
	if err != nil {
		return mapPgError(err, "rename project", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("project %q not found", id)
	}
	return nil
}

// DeleteProject relies on the warehouse FK's ON DELETE RESTRICT to refuse
// deleting a non-empty project.
func (t *Tx) DeleteProject(ctx context.Context, id domain.ProjectID) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM project WHERE project_id = $1`, id.String())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return domain.BadRequest("project %q still contains warehouses", id)
	}
	if err != nil {
		return mapPgError(err, "delete project", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("project %q not found", id)
	}
	return nil
}
