package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

const namespaceColumns = `namespace_id, warehouse_id, namespace_name, properties,
	parent_id, protected, created_at`

func scanNamespace(row pgx.Row) (*domain.Namespace, error) {
	var (
		id        uuid.UUID
		warehouse uuid.UUID
		name      []string
		propsJSON []byte
		parentID  *uuid.UUID
		protected bool
		createdAt time.Time
	)
	err := row.Scan(&id, &warehouse, &name, &propsJSON, &parentID, &protected, &createdAt)
	if err != nil {
		return nil, err
	}
	props := map[string]string{}
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &props); err != nil {
			return nil, fmt.Errorf("decode namespace properties: %w", err)
		}
	}
	ns := &domain.Namespace{
		ID:          domain.NamespaceID(id),
		WarehouseID: domain.WarehouseID(warehouse),
		Ident:       domain.NamespaceIdent(name),
		Properties:  props,
		Protected:   protected,
		CreatedAt:   createdAt,
	}
	if parentID != nil {
		pid := domain.NamespaceID(*parentID)
		ns.ParentID = &pid
	}
	return ns, nil
}

func (q queries) GetNamespace(ctx context.Context, id domain.NamespaceID) (*domain.Namespace, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+namespaceColumns+` FROM namespace WHERE namespace_id = $1`,
		uuid.UUID(id))
	ns, err := scanNamespace(row)
	if err != nil {
		return nil, mapPgError(err, "get namespace", domain.NotFound("namespace %s not found", id))
	}
	return ns, nil
}

func (q queries) GetNamespaceByIdent(ctx context.Context, warehouse domain.WarehouseID, ident domain.NamespaceIdent) (*domain.Namespace, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+namespaceColumns+` FROM namespace WHERE warehouse_id = $1 AND namespace_name = $2`,
		uuid.UUID(warehouse), []string(ident))
	ns, err := scanNamespace(row)
	if err != nil {
		return nil, mapPgError(err, "get namespace by ident",
			domain.NotFound("namespace %s not found", ident))
	}
	return ns, nil
}

func (q queries) ListNamespaces(ctx context.Context, warehouse domain.WarehouseID, filter catalog.NamespaceFilter) ([]domain.Namespace, error) {
	query := `SELECT ` + namespaceColumns + ` FROM namespace WHERE warehouse_id = $1`
	args := []any{uuid.UUID(warehouse)}
	if filter.Parent != nil {
		query += ` AND parent_id = (SELECT namespace_id FROM namespace WHERE warehouse_id = $1 AND namespace_name = $2)`
		args = append(args, []string(filter.Parent))
	} else {
		query += ` AND parent_id IS NULL`
	}
	query += ` ORDER BY namespace_name`

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "list namespaces", nil)
	}
	defer rows.Close()

	var result []domain.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, mapPgError(err, "scan namespace", nil)
		}
		result = append(result, *ns)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list namespaces", nil)
	}
	return result, nil
}

// CreateNamespace resolves the parent from the ident. Creating "a.b"
// requires "a" to exist already.
func (t *Tx) CreateNamespace(ctx context.Context, ns *domain.Namespace) (*domain.Namespace, error) {
	created := *ns
	if created.Properties == nil {
		created.Properties = map[string]string{}
	}
	if parent := ns.Ident.Parent(); parent != nil {
		p, err := t.GetNamespaceByIdent(ctx, ns.WarehouseID, parent)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil, domain.NotFound("parent namespace %s not found", parent)
			}
			return nil, err
		}
		created.ParentID = &p.ID
	}
	propsJSON, err := json.Marshal(created.Properties)
	if err != nil {
		return nil, domain.BadRequest("invalid namespace properties: %v", err)
	}
	var parentID *uuid.UUID
	if created.ParentID != nil {
		pid := uuid.UUID(*created.ParentID)
		parentID = &pid
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO namespace (namespace_id, warehouse_id, namespace_name, properties, parent_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		uuid.UUID(created.ID), uuid.UUID(created.WarehouseID),
		[]string(created.Ident), propsJSON, parentID,
	).Scan(&created.CreatedAt)
	if err != nil {
		return nil, mapPgError(err, "create namespace", nil)
	}
	return &created, nil
}

func (t *Tx) UpdateNamespaceProperties(ctx context.Context, id domain.NamespaceID, updates map[string]string, removals []string) (*domain.Namespace, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+namespaceColumns+` FROM namespace WHERE namespace_id = $1 FOR UPDATE`,
		uuid.UUID(id))
	ns, err := scanNamespace(row)
	if err != nil {
		return nil, mapPgError(err, "update namespace properties",
			domain.NotFound("namespace %s not found", id))
	}
	for _, k := range removals {
		delete(ns.Properties, k)
	}
	for k, v := range updates {
		ns.Properties[k] = v
	}
	propsJSON, err := json.Marshal(ns.Properties)
	if err != nil {
		return nil, domain.BadRequest("invalid namespace properties: %v", err)
	}
	_, err = t.tx.Exec(ctx,
		`UPDATE namespace SET properties = $2 WHERE namespace_id = $1`,
		uuid.UUID(id), propsJSON)
	if err != nil {
		return nil, mapPgError(err, "update namespace properties", nil)
	}
	return ns, nil
}

func (t *Tx) SetNamespaceProtected(ctx context.Context, id domain.NamespaceID, protected bool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE namespace SET protected = $2 WHERE namespace_id = $1`,
		uuid.UUID(id), protected)
	if err != nil {
		return mapPgError(err, "set namespace protection", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("namespace %s not found", id)
	}
	return nil
}

// DropNamespace removes the namespace. Without recursive it fails when any
// child namespace or active tabular exists. With recursive it walks the
// subtree, refuses if anything in it is protected, soft-deletes (or removes)
// every active tabular per the warehouse delete profile and deletes the
// namespace rows. Returned tabulars are the ones dropped, so the caller can
// enqueue purge tasks.
func (t *Tx) DropNamespace(ctx context.Context, id domain.NamespaceID, recursive bool) ([]domain.Tabular, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+namespaceColumns+` FROM namespace WHERE namespace_id = $1 FOR UPDATE`,
		uuid.UUID(id))
	ns, err := scanNamespace(row)
	if err != nil {
		return nil, mapPgError(err, "drop namespace", domain.NotFound("namespace %s not found", id))
	}
	if ns.Protected {
		return nil, domain.Protected("namespace %s is protected", ns.Ident)
	}

	// collect the subtree, self included
	rows, err := t.tx.Query(ctx,
		`WITH RECURSIVE subtree AS (
			SELECT namespace_id, protected FROM namespace WHERE namespace_id = $1
			UNION ALL
			SELECT n.namespace_id, n.protected FROM namespace n
			JOIN subtree s ON n.parent_id = s.namespace_id
		 )
		 SELECT namespace_id, protected FROM subtree`,
		uuid.UUID(id))
	if err != nil {
		return nil, mapPgError(err, "drop namespace", nil)
	}
	var subtree []uuid.UUID
	for rows.Next() {
		var nsID uuid.UUID
		var protected bool
		if err := rows.Scan(&nsID, &protected); err != nil {
			rows.Close()
			return nil, mapPgError(err, "drop namespace", nil)
		}
		if protected && nsID != uuid.UUID(id) {
			rows.Close()
			return nil, domain.Protected("namespace %s contains a protected namespace", ns.Ident)
		}
		subtree = append(subtree, nsID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "drop namespace", nil)
	}

	if !recursive {
		if len(subtree) > 1 {
			return nil, domain.BadRequest("namespace %s is not empty", ns.Ident)
		}
		var tabulars int
		err = t.tx.QueryRow(ctx,
			`SELECT count(*) FROM tabular WHERE namespace_id = $1 AND deleted_at IS NULL`,
			uuid.UUID(id)).Scan(&tabulars)
		if err != nil {
			return nil, mapPgError(err, "drop namespace", nil)
		}
		if tabulars > 0 {
			return nil, domain.BadRequest("namespace %s is not empty", ns.Ident)
		}
		_, err = t.tx.Exec(ctx, `DELETE FROM namespace WHERE namespace_id = $1`, uuid.UUID(id))
		if err != nil {
			return nil, mapPgError(err, "drop namespace", nil)
		}
		return nil, nil
	}

	wh, err := t.GetWarehouse(ctx, ns.WarehouseID)
	if err != nil {
		return nil, err
	}

	var dropped []domain.Tabular
	for _, nsID := range subtree {
		active, err := t.listActiveTabulars(ctx, domain.NamespaceID(nsID))
		if err != nil {
			return nil, err
		}
		for i := range active {
			if active[i].Protected {
				return nil, domain.Protected("namespace %s contains a protected %s %q",
					ns.Ident, active[i].Kind, active[i].Name)
			}
			tab, err := t.DropTabular(ctx, active[i].ID, false, wh.TabularDeleteProfile)
			if err != nil {
				return nil, err
			}
			dropped = append(dropped, *tab)
		}
	}

	// soft-deleted tabulars still reference their namespace rows, so the
	// subtree can only be removed under a hard-delete profile
	if wh.TabularDeleteProfile.Kind == domain.DeleteProfileHard {
		_, err = t.tx.Exec(ctx, `DELETE FROM namespace WHERE namespace_id = ANY($1)`, subtree)
		if err != nil {
			return nil, mapPgError(err, "drop namespace", nil)
		}
	}
	return dropped, nil
}

func (t *Tx) RenameNamespace(ctx context.Context, id domain.NamespaceID, newIdent domain.NamespaceIdent) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE namespace SET namespace_name = $2 WHERE namespace_id = $1`,
		uuid.UUID(id), []string(newIdent))
	if err != nil {
		return mapPgError(err, "rename namespace", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("namespace %s not found", id)
	}
	return nil
}
