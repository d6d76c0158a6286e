package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/postgres"
)

// testPool returns a pgxpool.Pool connected to the test database.
// It skips the test if DATABASE_URL is not set, runs migrations and cleans
// all tables before returning.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, url, postgres.PoolOptions{})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cleanTables(t, pool)

	return pool
}

// cleanTables truncates all tables.
func cleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	// Order matters due to FK constraints
	tables := []string{
		"task", "statistics", "endpoint_stats", "scalars",
		"role_assignment", "role", "users",
		"tabular", "namespace", "warehouse", "secret", "project", "server",
	}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

// inTx runs fn inside a write transaction and commits.
func inTx(t *testing.T, store *postgres.Store, fn func(tx catalog.Transaction) error) {
	t.Helper()

	ctx := context.Background()
	tx, err := store.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// seedWarehouse creates a project plus a warehouse with the given delete
// profile and returns the warehouse.
func seedWarehouse(t *testing.T, store *postgres.Store, profile domain.TabularDeleteProfile) *domain.Warehouse {
	t.Helper()

	wh := &domain.Warehouse{
		ID:        domain.NewWarehouseID(),
		ProjectID: "test-project",
		Name:      "wh",
		StorageProfile: domain.StorageProfile{
			Type: domain.StorageTypeS3,
			S3:   &domain.S3StorageProfile{Bucket: "bucket", Region: "us-east-1"},
		},
		Status:               domain.WarehouseStatusActive,
		TabularDeleteProfile: profile,
	}
	inTx(t, store, func(tx catalog.Transaction) error {
		if _, err := tx.CreateProject(context.Background(), "test-project", "Test"); err != nil {
			return err
		}
		_, err := tx.CreateWarehouse(context.Background(), wh)
		return err
	})
	return wh
}

// seedNamespace creates a namespace in the warehouse.
func seedNamespace(t *testing.T, store *postgres.Store, wh domain.WarehouseID, parts ...string) *domain.Namespace {
	t.Helper()

	ident, err := domain.NewNamespaceIdent(parts)
	if err != nil {
		t.Fatalf("namespace ident: %v", err)
	}
	ns := &domain.Namespace{
		ID:          domain.NewNamespaceID(),
		WarehouseID: wh,
		Ident:       ident,
	}
	inTx(t, store, func(tx catalog.Transaction) error {
		created, err := tx.CreateNamespace(context.Background(), ns)
		if err != nil {
			return err
		}
		*ns = *created
		return nil
	})
	return ns
}

// seedTable registers a table in the namespace.
func seedTable(t *testing.T, store *postgres.Store, ns domain.NamespaceID, name string) *domain.Tabular {
	t.Helper()

	var tab *domain.Tabular
	inTx(t, store, func(tx catalog.Transaction) error {
		created, err := tx.CreateTabular(context.Background(), catalog.TabularCreate{
			NamespaceID:      ns,
			Kind:             domain.TabularKindTable,
			Name:             name,
			MetadataLocation: "s3://bucket/" + name + "/metadata/v1.json",
			Location:         "s3://bucket/" + name,
		})
		if err != nil {
			return err
		}
		tab = created
		return nil
	})
	return tab
}
