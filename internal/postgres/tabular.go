package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

const tabularColumns = `tabular_id, namespace_id, typ, name, metadata_location,
	previous_metadata_location, location, deleted_at, cleanup_at, protected, created_at`

func scanTabular(row pgx.Row) (*domain.Tabular, error) {
	var (
		id           uuid.UUID
		namespaceID  uuid.UUID
		typ, name    string
		metadataLoc  string
		prevMetadata pgtype.Text
		location     string
		deletedAt    *time.Time
		cleanupAt    *time.Time
		protected    bool
		createdAt    time.Time
	)
	err := row.Scan(&id, &namespaceID, &typ, &name, &metadataLoc, &prevMetadata,
		&location, &deletedAt, &cleanupAt, &protected, &createdAt)
	if err != nil {
		return nil, err
	}
	return &domain.Tabular{
		ID:                       domain.TabularID(id),
		NamespaceID:              domain.NamespaceID(namespaceID),
		Kind:                     domain.TabularKind(typ),
		Name:                     name,
		MetadataLocation:         metadataLoc,
		PreviousMetadataLocation: textPtr(prevMetadata),
		Location:                 location,
		DeletedAt:                deletedAt,
		CleanupAt:                cleanupAt,
		Protected:                protected,
		CreatedAt:                createdAt,
	}, nil
}

func scanTabulars(rows pgx.Rows, op string) ([]domain.Tabular, error) {
	defer rows.Close()
	var result []domain.Tabular
	for rows.Next() {
		tab, err := scanTabular(rows)
		if err != nil {
			return nil, mapPgError(err, op, nil)
		}
		result = append(result, *tab)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, op, nil)
	}
	return result, nil
}

func (q queries) GetTabular(ctx context.Context, id domain.TabularID) (*domain.Tabular, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+tabularColumns+` FROM tabular WHERE tabular_id = $1`,
		uuid.UUID(id))
	tab, err := scanTabular(row)
	if err != nil {
		return nil, mapPgError(err, "get tabular", domain.NotFound("table or view %s not found", id))
	}
	return tab, nil
}

func (q queries) GetTabularByIdent(ctx context.Context, warehouse domain.WarehouseID, kind domain.TabularKind, ident domain.TabularIdent) (*domain.Tabular, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+prefixed(tabularColumns, "t.")+`
		 FROM tabular t
		 JOIN namespace n ON n.namespace_id = t.namespace_id
		 WHERE n.warehouse_id = $1 AND n.namespace_name = $2
		   AND t.typ = $3 AND t.name = $4 AND t.deleted_at IS NULL`,
		uuid.UUID(warehouse), []string(ident.Namespace), string(kind), ident.Name)
	tab, err := scanTabular(row)
	if err != nil {
		return nil, mapPgError(err, "get tabular by ident",
			domain.NotFound("%s %s not found", kind, ident))
	}
	return tab, nil
}

func (q queries) ListTabulars(ctx context.Context, namespace domain.NamespaceID, kind domain.TabularKind) ([]domain.Tabular, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+tabularColumns+` FROM tabular
		 WHERE namespace_id = $1 AND typ = $2 AND deleted_at IS NULL
		 ORDER BY name`,
		uuid.UUID(namespace), string(kind))
	if err != nil {
		return nil, mapPgError(err, "list tabulars", nil)
	}
	return scanTabulars(rows, "list tabulars")
}

func (q queries) listActiveTabulars(ctx context.Context, namespace domain.NamespaceID) ([]domain.Tabular, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+tabularColumns+` FROM tabular
		 WHERE namespace_id = $1 AND deleted_at IS NULL ORDER BY name`,
		uuid.UUID(namespace))
	if err != nil {
		return nil, mapPgError(err, "list active tabulars", nil)
	}
	return scanTabulars(rows, "list active tabulars")
}

func (q queries) ListDeletedTabulars(ctx context.Context, warehouse domain.WarehouseID, filter catalog.DeletedTabularsFilter) ([]domain.Tabular, error) {
	query := `SELECT ` + prefixed(tabularColumns, "t.") + `
		 FROM tabular t
		 JOIN namespace n ON n.namespace_id = t.namespace_id
		 WHERE n.warehouse_id = $1 AND t.deleted_at IS NOT NULL`
	args := []any{uuid.UUID(warehouse)}
	if filter.NamespaceID != nil {
		query += ` AND t.namespace_id = $2`
		args = append(args, uuid.UUID(*filter.NamespaceID))
	}
	query += ` ORDER BY t.deleted_at DESC`

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "list deleted tabulars", nil)
	}
	return scanTabulars(rows, "list deleted tabulars")
}

// ResolveTabularByLocation matches the longest active tabular location that
// prefixes the given object-store location within the warehouse.
func (q queries) ResolveTabularByLocation(ctx context.Context, warehouse domain.WarehouseID, location string) (*domain.Tabular, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+prefixed(tabularColumns, "t.")+`
		 FROM tabular t
		 JOIN namespace n ON n.namespace_id = t.namespace_id
		 WHERE n.warehouse_id = $1 AND t.deleted_at IS NULL
		   AND $2 LIKE t.location || '%'
		 ORDER BY length(t.location) DESC
		 LIMIT 1`,
		uuid.UUID(warehouse), location)
	tab, err := scanTabular(row)
	if err != nil {
		return nil, mapPgError(err, "resolve tabular by location",
			domain.NotFound("no table or view owns location %q", location))
	}
	return tab, nil
}

func (t *Tx) CreateTabular(ctx context.Context, create catalog.TabularCreate) (*domain.Tabular, error) {
	tab := &domain.Tabular{
		ID:               domain.NewTabularID(),
		NamespaceID:      create.NamespaceID,
		Kind:             create.Kind,
		Name:             create.Name,
		MetadataLocation: create.MetadataLocation,
		Location:         create.Location,
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO tabular (tabular_id, namespace_id, typ, name, metadata_location, location)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		uuid.UUID(tab.ID), uuid.UUID(tab.NamespaceID), string(tab.Kind),
		tab.Name, tab.MetadataLocation, tab.Location,
	).Scan(&tab.CreatedAt)
	if err != nil {
		return nil, mapPgError(err, "create tabular", nil)
	}
	return tab, nil
}

// CommitTabular is the compare-and-swap on the metadata pointer. A stale
// expected location fails with ConcurrentModification so the client can
// refresh and retry.
func (t *Tx) CommitTabular(ctx context.Context, commit catalog.TabularCommit) (*domain.Tabular, error) {
	row := t.tx.QueryRow(ctx,
		`UPDATE tabular
		 SET metadata_location = $3, previous_metadata_location = metadata_location
		 WHERE tabular_id = $1 AND metadata_location = $2 AND deleted_at IS NULL
		 RETURNING `+tabularColumns,
		uuid.UUID(commit.TabularID), commit.ExpectedMetadataLocation, commit.NewMetadataLocation)
	tab, err := scanTabular(row)
	if err == nil {
		return tab, nil
	}
	mapped := mapPgError(err, "commit tabular", domain.NotFound(""))
	if !domain.IsNotFound(mapped) {
		return nil, mapped
	}

	// distinguish "gone" from "pointer moved"
	current, err := t.GetTabular(ctx, commit.TabularID)
	if err != nil || !current.Active() {
		return nil, domain.NotFound("table or view %s not found", commit.TabularID)
	}
	return nil, domain.ConcurrentModification(
		"metadata location changed concurrently, expected %q but found %q",
		commit.ExpectedMetadataLocation, current.MetadataLocation)
}

func (t *Tx) RenameTabular(ctx context.Context, id domain.TabularID, newIdent domain.TabularIdent) error {
	// resolve the destination namespace in the same warehouse
	var nsID uuid.UUID
	err := t.tx.QueryRow(ctx,
		`SELECT dest.namespace_id
		 FROM tabular t
		 JOIN namespace src ON src.namespace_id = t.namespace_id
		 JOIN namespace dest ON dest.warehouse_id = src.warehouse_id AND dest.namespace_name = $2
		 WHERE t.tabular_id = $1`,
		uuid.UUID(id), []string(newIdent.Namespace)).Scan(&nsID)
	if err != nil {
		return mapPgError(err, "rename tabular",
			domain.NotFound("destination namespace %s not found", newIdent.Namespace))
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE tabular SET namespace_id = $2, name = $3
		 WHERE tabular_id = $1 AND deleted_at IS NULL`,
		uuid.UUID(id), nsID, newIdent.Name)
	if err != nil {
		return mapPgError(err, "rename tabular", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("table or view %s not found", id)
	}
	return nil
}

func (t *Tx) SetTabularProtected(ctx context.Context, id domain.TabularID, protected bool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE tabular SET protected = $2 WHERE tabular_id = $1 AND deleted_at IS NULL`,
		uuid.UUID(id), protected)
	if err != nil {
		return mapPgError(err, "set tabular protection", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("table or view %s not found", id)
	}
	return nil
}

// DropTabular applies the delete profile: hard removes the row immediately,
// soft stamps deleted_at and cleanup_at. A purge request does not override a
// soft profile; it only flags the scheduled expiration task to remove data,
// so the tabular stays undroppable until cleanup_at.
func (t *Tx) DropTabular(ctx context.Context, id domain.TabularID, purge bool, profile domain.TabularDeleteProfile) (*domain.Tabular, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+tabularColumns+` FROM tabular WHERE tabular_id = $1 FOR UPDATE`,
		uuid.UUID(id))
	tab, err := scanTabular(row)
	if err != nil {
		return nil, mapPgError(err, "drop tabular", domain.NotFound("table or view %s not found", id))
	}
	if !tab.Active() {
		return nil, domain.NotFound("table or view %s not found", id)
	}
	if tab.Protected {
		return nil, domain.Protected("%s %q is protected", tab.Kind, tab.Name)
	}

	if profile.Kind == domain.DeleteProfileHard {
		_, err = t.tx.Exec(ctx, `DELETE FROM tabular WHERE tabular_id = $1`, uuid.UUID(id))
		if err != nil {
			return nil, mapPgError(err, "drop tabular", nil)
		}
		now := time.Now().UTC()
		tab.DeletedAt = &now
		return tab, nil
	}

	var deletedAt, cleanupAt time.Time
	err = t.tx.QueryRow(ctx,
		`UPDATE tabular SET deleted_at = now(), cleanup_at = now() + $2
		 WHERE tabular_id = $1
		 RETURNING deleted_at, cleanup_at`,
		uuid.UUID(id), profile.ExpirationSeconds()).Scan(&deletedAt, &cleanupAt)
	if err != nil {
		return nil, mapPgError(err, "drop tabular", nil)
	}
	tab.DeletedAt = &deletedAt
	tab.CleanupAt = &cleanupAt
	return tab, nil
}

// PurgeTabular removes a soft-deleted row for good. An active row means the
// tabular was undropped after the purge was scheduled; the purge yields.
func (t *Tx) PurgeTabular(ctx context.Context, id domain.TabularID) (*domain.Tabular, error) {
	row := t.tx.QueryRow(ctx,
		`DELETE FROM tabular WHERE tabular_id = $1 AND deleted_at IS NOT NULL
		 RETURNING `+tabularColumns,
		uuid.UUID(id))
	tab, err := scanTabular(row)
	if err == nil {
		return tab, nil
	}
	mapped := mapPgError(err, "purge tabular", domain.NotFound(""))
	if domain.IsNotFound(mapped) {
		return nil, nil
	}
	return nil, mapped
}

// UndropTabulars restores soft-deleted rows. Any id that is missing or not
// soft-deleted fails the whole batch.
func (t *Tx) UndropTabulars(ctx context.Context, ids []domain.TabularID) ([]domain.Tabular, error) {
	raw := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		raw[i] = uuid.UUID(id)
	}
	rows, err := t.tx.Query(ctx,
		`UPDATE tabular SET deleted_at = NULL, cleanup_at = NULL
		 WHERE tabular_id = ANY($1) AND deleted_at IS NOT NULL
		 RETURNING `+tabularColumns,
		raw)
	if err != nil {
		return nil, mapPgError(err, "undrop tabulars", nil)
	}
	restored, err := scanTabulars(rows, "undrop tabulars")
	if err != nil {
		return nil, err
	}
	if len(restored) != len(ids) {
		return nil, domain.NotFound("one or more tabulars are not soft-deleted")
	}
	return restored, nil
}
