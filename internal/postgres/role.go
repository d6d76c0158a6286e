package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

const roleColumns = `role_id, project_id, name, description, created_at, updated_at`

func scanRole(row pgx.Row) (*domain.Role, error) {
	var (
		id                   uuid.UUID
		projectID            string
		name, description    string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &projectID, &name, &description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return &domain.Role{
		ID:          domain.RoleID(id),
		ProjectID:   domain.ProjectID(projectID),
		Name:        name,
		Description: description,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (q queries) GetRole(ctx context.Context, id domain.RoleID) (*domain.Role, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+roleColumns+` FROM role WHERE role_id = $1`, uuid.UUID(id))
	role, err := scanRole(row)
	if err != nil {
		return nil, mapPgError(err, "get role", domain.NotFound("role %s not found", id))
	}
	return role, nil
}

func (q queries) ListRoles(ctx context.Context, project domain.ProjectID) ([]domain.Role, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+roleColumns+` FROM role WHERE project_id = $1 ORDER BY name`,
		project.String())
	if err != nil {
		return nil, mapPgError(err, "list roles", nil)
	}
	defer rows.Close()

	var result []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, mapPgError(err, "scan role", nil)
		}
		result = append(result, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list roles", nil)
	}
	return result, nil
}

func (t *Tx) CreateRole(ctx context.Context, role *domain.Role) (*domain.Role, error) {
	created := *role
	err := t.tx.QueryRow(ctx,
		`INSERT INTO role (role_id, project_id, name, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		uuid.UUID(role.ID), role.ProjectID.String(), role.Name, role.Description,
	).Scan(&created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err, "create role", nil)
	}
	return &created, nil
}

func (t *Tx) DeleteRole(ctx context.Context, id domain.RoleID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM role WHERE role_id = $1`, uuid.UUID(id))
	if err != nil {
		return mapPgError(err, "delete role", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("role %s not found", id)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		id, name      string
		email         pgtype.Text
		userType      string
		lastUpdatedAt time.Time
	)
	if err := row.Scan(&id, &name, &email, &userType, &lastUpdatedAt); err != nil {
		return nil, err
	}
	u := &domain.User{
		ID:            domain.UserID(id),
		Name:          name,
		UserType:      domain.UserType(userType),
		LastUpdatedAt: lastUpdatedAt,
	}
	if email.Valid {
		u.Email = email.String
	}
	return u, nil
}

func (q queries) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	row := q.db.QueryRow(ctx,
		`SELECT user_id, name, email, user_type, last_updated_at FROM users WHERE user_id = $1`,
		string(id))
	u, err := scanUser(row)
	if err != nil {
		return nil, mapPgError(err, "get user", domain.NotFound("user %q not found", id))
	}
	return u, nil
}

func (q queries) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := q.db.Query(ctx,
		`SELECT user_id, name, email, user_type, last_updated_at FROM users ORDER BY user_id`)
	if err != nil {
		return nil, mapPgError(err, "list users", nil)
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapPgError(err, "scan user", nil)
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list users", nil)
	}
	return result, nil
}

// ProvisionUser upserts the principal on first sight of its subject, so
// authentication middleware can register users lazily.
func (t *Tx) ProvisionUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	created := *user
	var email pgtype.Text
	if user.Email != "" {
		email = pgtype.Text{String: user.Email, Valid: true}
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO users (user_id, name, email, user_type)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email,
		     user_type = EXCLUDED.user_type, last_updated_at = now()
		 RETURNING last_updated_at`,
		string(user.ID), user.Name, email, string(user.UserType),
	).Scan(&created.LastUpdatedAt)
	if err != nil {
		return nil, mapPgError(err, "provision user", nil)
	}
	return &created, nil
}
