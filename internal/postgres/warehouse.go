package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

const warehouseColumns = `warehouse_id, project_id, warehouse_name, storage_profile,
	storage_secret_id, status, tabular_delete_profile, protected, created_at`

func scanWarehouse(row pgx.Row) (*domain.Warehouse, error) {
	var (
		id             uuid.UUID
		projectID      string
		name           string
		profileJSON    []byte
		secretID       *uuid.UUID
		status         string
		deleteJSON     []byte
		protected      bool
		createdAt      time.Time
		storageProfile domain.StorageProfile
		deleteProfile  domain.TabularDeleteProfile
	)
	err := row.Scan(&id, &projectID, &name, &profileJSON, &secretID,
		&status, &deleteJSON, &protected, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(profileJSON, &storageProfile); err != nil {
		return nil, fmt.Errorf("decode storage profile: %w", err)
	}
	if err := json.Unmarshal(deleteJSON, &deleteProfile); err != nil {
		return nil, fmt.Errorf("decode delete profile: %w", err)
	}
	wh := &domain.Warehouse{
		ID:                   domain.WarehouseID(id),
		ProjectID:            domain.ProjectID(projectID),
		Name:                 name,
		StorageProfile:       storageProfile,
		Status:               domain.WarehouseStatus(status),
		TabularDeleteProfile: deleteProfile,
		Protected:            protected,
		CreatedAt:            createdAt,
	}
	if secretID != nil {
		sid := domain.SecretID(*secretID)
		wh.StorageSecretID = &sid
	}
	return wh, nil
}

func (q queries) GetWarehouse(ctx context.Context, id domain.WarehouseID) (*domain.Warehouse, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+warehouseColumns+` FROM warehouse WHERE warehouse_id = $1`,
		uuid.UUID(id))
	wh, err := scanWarehouse(row)
	if err != nil {
		return nil, mapPgError(err, "get warehouse", domain.NotFound("warehouse %s not found", id))
	}
	return wh, nil
}

func (q queries) GetWarehouseByName(ctx context.Context, project domain.ProjectID, name string) (*domain.Warehouse, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+warehouseColumns+` FROM warehouse WHERE project_id = $1 AND warehouse_name = $2`,
		project.String(), name)
	wh, err := scanWarehouse(row)
	if err != nil {
		return nil, mapPgError(err, "get warehouse by name",
			domain.NotFound("warehouse %q not found in project %q", name, project))
	}
	return wh, nil
}

func (q queries) ListWarehouses(ctx context.Context, project domain.ProjectID) ([]domain.Warehouse, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+warehouseColumns+` FROM warehouse WHERE project_id = $1 ORDER BY warehouse_name`,
		project.String())
	if err != nil {
		return nil, mapPgError(err, "list warehouses", nil)
	}
	defer rows.Close()

	var result []domain.Warehouse
	for rows.Next() {
		wh, err := scanWarehouse(rows)
		if err != nil {
			return nil, mapPgError(err, "scan warehouse", nil)
		}
		result = append(result, *wh)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list warehouses", nil)
	}
	return result, nil
}

func (t *Tx) CreateWarehouse(ctx context.Context, wh *domain.Warehouse) (*domain.Warehouse, error) {
	profileJSON, err := json.Marshal(wh.StorageProfile)
	if err != nil {
		return nil, domain.BadRequest("invalid storage profile: %v", err)
	}
	deleteJSON, err := json.Marshal(wh.TabularDeleteProfile)
	if err != nil {
		return nil, domain.BadRequest("invalid delete profile: %v", err)
	}
	var secretID *uuid.UUID
	if wh.StorageSecretID != nil {
		sid := uuid.UUID(*wh.StorageSecretID)
		secretID = &sid
	}
	created := *wh
	err = t.tx.QueryRow(ctx,
		`INSERT INTO warehouse (warehouse_id, project_id, warehouse_name, storage_profile,
			storage_secret_id, status, tabular_delete_profile, protected)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		uuid.UUID(wh.ID), wh.ProjectID.String(), wh.Name, profileJSON, secretID,
		string(wh.Status), deleteJSON, wh.Protected,
	).Scan(&created.CreatedAt)
	if err != nil {
		return nil, mapPgError(err, "create warehouse", nil)
	}
	return &created, nil
}

func (t *Tx) RenameWarehouse(ctx context.Context, id domain.WarehouseID, name string) error {
	return t.updateWarehouse(ctx, id, "rename warehouse",
		`UPDATE warehouse SET warehouse_name = $2 WHERE warehouse_id = $1`, name)
}

func (t *Tx) SetWarehouseStatus(ctx context.Context, id domain.WarehouseID, status domain.WarehouseStatus) error {
	return t.updateWarehouse(ctx, id, "set warehouse status",
		`UPDATE warehouse SET status = $2 WHERE warehouse_id = $1`, string(status))
}

func (t *Tx) SetWarehouseDeleteProfile(ctx context.Context, id domain.WarehouseID, profile domain.TabularDeleteProfile) error {
	deleteJSON, err := json.Marshal(profile)
	if err != nil {
		return domain.BadRequest("invalid delete profile: %v", err)
	}
	return t.updateWarehouse(ctx, id, "set warehouse delete profile",
		`UPDATE warehouse SET tabular_delete_profile = $2 WHERE warehouse_id = $1`, deleteJSON)
}

func (t *Tx) SetWarehouseProtected(ctx context.Context, id domain.WarehouseID, protected bool) error {
	return t.updateWarehouse(ctx, id, "set warehouse protection",
		`UPDATE warehouse SET protected = $2 WHERE warehouse_id = $1`, protected)
}

func (t *Tx) updateWarehouse(ctx context.Context, id domain.WarehouseID, op, query string, arg any) error {
	tag, err := t.tx.Exec(ctx, query, uuid.UUID(id), arg)
	if err != nil {
		return mapPgError(err, op, nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("warehouse %s not found", id)
	}
	return nil
}

// DeleteWarehouse refuses protected warehouses. Namespaces and tabulars
// cascade at the database level; the caller is responsible for checking the
// warehouse is empty or force was requested.
func (t *Tx) DeleteWarehouse(ctx context.Context, id domain.WarehouseID) error {
	var protected bool
	err := t.tx.QueryRow(ctx,
		`SELECT protected FROM warehouse WHERE warehouse_id = $1 FOR UPDATE`,
		uuid.UUID(id)).Scan(&protected)
	if err != nil {
		return mapPgError(err, "delete warehouse", domain.NotFound("warehouse %s not found", id))
	}
	if protected {
		return domain.Protected("warehouse %s is protected", id)
	}
	_, err = t.tx.Exec(ctx, `DELETE FROM warehouse WHERE warehouse_id = $1`, uuid.UUID(id))
	if err != nil {
		return mapPgError(err, "delete warehouse", nil)
	}
	return nil
}
