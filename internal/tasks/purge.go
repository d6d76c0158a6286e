package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/secrets"
)

// PurgePayload is the queue payload for purge-tabular tasks. Enqueued in the
// same transaction as the drop, with scheduled_for at the cleanup deadline.
type PurgePayload struct {
	TabularID   domain.TabularID   `json:"tabular_id"`
	WarehouseID domain.WarehouseID `json:"warehouse_id"`
	Location    string             `json:"location"`
	// DeleteData requests removal of the objects under Location. Set only
	// when the drop asked for a purge; a plain expiration removes the
	// catalog row and leaves the data files.
	DeleteData bool `json:"delete_data"`
}

// ObjectRemover deletes everything under a location in the warehouse's
// object store. Implemented by the storage package.
type ObjectRemover interface {
	RemovePrefix(ctx context.Context, profile domain.StorageProfile, credential []byte, location string) error
}

// PurgeHandler finalizes soft-deleted tabulars: it removes the catalog row
// and then the data under the tabular's location. Row first, so a crash
// between the two leaves orphaned objects rather than a row pointing at
// deleted data.
type PurgeHandler struct {
	store   catalog.Store
	secrets secrets.Store
	remover ObjectRemover
	logger  *slog.Logger
}

// NewPurgeHandler wires the purge queue consumer.
func NewPurgeHandler(store catalog.Store, secretStore secrets.Store, remover ObjectRemover, logger *slog.Logger) *PurgeHandler {
	return &PurgeHandler{
		store:   store,
		secrets: secretStore,
		remover: remover,
		logger:  logger.With("component", "purge-handler"),
	}
}

func (h *PurgeHandler) QueueName() string { return domain.QueuePurgeTabular }

func (h *PurgeHandler) Execute(ctx context.Context, task domain.Task) error {
	var payload PurgePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode purge payload: %w", err)
	}

	wh, err := h.store.GetWarehouse(ctx, payload.WarehouseID)
	if err != nil {
		if domain.IsNotFound(err) {
			// warehouse gone, nothing left to clean
			return nil
		}
		return err
	}

	var purged *domain.Tabular
	err = catalog.RunWriteTx(ctx, h.store, func(tx catalog.Transaction) error {
		var err error
		purged, err = tx.PurgeTabular(ctx, payload.TabularID)
		return err
	})
	if err != nil {
		return err
	}
	if purged == nil {
		// Either the row was undropped after scheduling, or a hard drop
		// removed it at enqueue time. An existing row means undrop won.
		if _, err := h.store.GetTabular(ctx, payload.TabularID); err == nil {
			h.logger.Info("purge skipped, tabular was undropped",
				"tabular_id", payload.TabularID)
			return nil
		} else if !domain.IsNotFound(err) {
			return err
		}
	}

	if !payload.DeleteData {
		return nil
	}
	var credential []byte
	if wh.StorageSecretID != nil {
		credential, err = h.secrets.Retrieve(ctx, *wh.StorageSecretID)
		if err != nil {
			return fmt.Errorf("load storage credential: %w", err)
		}
	}
	if err := h.remover.RemovePrefix(ctx, wh.StorageProfile, credential, payload.Location); err != nil {
		return fmt.Errorf("remove data at %s: %w", payload.Location, err)
	}
	h.logger.Info("purged tabular", "tabular_id", payload.TabularID, "location", payload.Location)
	return nil
}
