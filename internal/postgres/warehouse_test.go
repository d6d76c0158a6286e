package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/postgres"
)

func hardDelete() domain.TabularDeleteProfile {
	return domain.TabularDeleteProfile{Kind: domain.DeleteProfileHard}
}

func softDelete(expiration domain.Duration) domain.TabularDeleteProfile {
	return domain.TabularDeleteProfile{Kind: domain.DeleteProfileSoft, Expiration: expiration}
}

func TestServerBootstrap(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool)
	ctx := context.Background()

	info, err := store.ServerInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.OpenForBootstrap)

	inTx(t, store, func(tx catalog.Transaction) error {
		_, err := tx.BootstrapServer(ctx, true)
		return err
	})

	info, err = store.ServerInfo(ctx)
	require.NoError(t, err)
	assert.False(t, info.OpenForBootstrap)
	assert.True(t, info.TermsAccepted)

	// second bootstrap conflicts
	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	_, err = tx.BootstrapServer(ctx, true)
	assert.True(t, domain.IsType(err, domain.ErrTypeEntityAlreadyExists))
	_ = tx.Rollback(ctx)
}

func TestWarehouseCreateAndGet(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool)
	ctx := context.Background()

	wh := seedWarehouse(t, store, hardDelete())

	got, err := store.GetWarehouse(ctx, wh.ID)
	require.NoError(t, err)
	assert.Equal(t, wh.Name, got.Name)
	assert.Equal(t, domain.WarehouseStatusActive, got.Status)
	assert.Equal(t, domain.StorageTypeS3, got.StorageProfile.Type)
	assert.Equal(t, "bucket", got.StorageProfile.S3.Bucket)

	byName, err := store.GetWarehouseByName(ctx, wh.ProjectID, wh.Name)
	require.NoError(t, err)
	assert.Equal(t, got.ID, byName.ID)

	_, err = store.GetWarehouse(ctx, domain.NewWarehouseID())
	assert.True(t, domain.IsNotFound(err))
}

func TestWarehouseDuplicateName(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool)
	ctx := context.Background()

	wh := seedWarehouse(t, store, hardDelete())

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	dup := *wh
	dup.ID = domain.NewWarehouseID()
	_, err = tx.CreateWarehouse(ctx, &dup)
	assert.True(t, domain.IsType(err, domain.ErrTypeEntityAlreadyExists))
	_ = tx.Rollback(ctx)
}

func TestWarehouseLifecycle(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool)
	ctx := context.Background()

	wh := seedWarehouse(t, store, hardDelete())

	inTx(t, store, func(tx catalog.Transaction) error {
		if err := tx.RenameWarehouse(ctx, wh.ID, "renamed"); err != nil {
			return err
		}
		if err := tx.SetWarehouseStatus(ctx, wh.ID, domain.WarehouseStatusDeactivated); err != nil {
			return err
		}
		return tx.SetWarehouseDeleteProfile(ctx, wh.ID, softDelete(domain.Duration(3600e9)))
	})

	got, err := store.GetWarehouse(ctx, wh.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, domain.WarehouseStatusDeactivated, got.Status)
	assert.Equal(t, domain.DeleteProfileSoft, got.TabularDeleteProfile.Kind)
}

func TestWarehouseProtection(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool)
	ctx := context.Background()

	wh := seedWarehouse(t, store, hardDelete())

	inTx(t, store, func(tx catalog.Transaction) error {
		return tx.SetWarehouseProtected(ctx, wh.ID, true)
	})

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	err = tx.DeleteWarehouse(ctx, wh.ID)
	assert.True(t, domain.IsType(err, domain.ErrTypeEntityProtected))
	_ = tx.Rollback(ctx)

	inTx(t, store, func(tx catalog.Transaction) error {
		if err := tx.SetWarehouseProtected(ctx, wh.ID, false); err != nil {
			return err
		}
		return tx.DeleteWarehouse(ctx, wh.ID)
	})

	_, err = store.GetWarehouse(ctx, wh.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestProjectDeleteWithWarehouses(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool)
	ctx := context.Background()

	wh := seedWarehouse(t, store, hardDelete())

	tx, err := store.BeginWrite(ctx)
	require.NoError(t, err)
	err = tx.DeleteProject(ctx, wh.ProjectID)
	assert.True(t, domain.IsType(err, domain.ErrTypeBadRequest))
	_ = tx.Rollback(ctx)

	inTx(t, store, func(tx catalog.Transaction) error {
		if err := tx.DeleteWarehouse(ctx, wh.ID); err != nil {
			return err
		}
		return tx.DeleteProject(ctx, wh.ProjectID)
	})

	_, err = store.GetProject(ctx, wh.ProjectID)
	assert.True(t, domain.IsNotFound(err))
}
