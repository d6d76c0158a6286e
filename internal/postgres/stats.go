package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lakekeeper/lakekeeper/internal/domain"
)

func (q queries) GetWarehouseStatistics(ctx context.Context, warehouse domain.WarehouseID, limit int) ([]domain.WarehouseStatistics, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx,
		`SELECT statistics_id, warehouse_id, number_of_tables, number_of_views, taken_at
		 FROM statistics WHERE warehouse_id = $1
		 ORDER BY statistics_id DESC LIMIT $2`,
		uuid.UUID(warehouse), limit)
	if err != nil {
		return nil, mapPgError(err, "get warehouse statistics", nil)
	}
	defer rows.Close()

	var result []domain.WarehouseStatistics
	for rows.Next() {
		var (
			statsID uuid.UUID
			whID    uuid.UUID
			s       domain.WarehouseStatistics
		)
		if err := rows.Scan(&statsID, &whID, &s.NumberOfTables, &s.NumberOfViews, &s.TakenAt); err != nil {
			return nil, mapPgError(err, "scan warehouse statistics", nil)
		}
		s.StatisticsID = domain.StatisticsID(statsID)
		s.WarehouseID = domain.WarehouseID(whID)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "get warehouse statistics", nil)
	}
	return result, nil
}

// RecordEndpointStats merges counter buckets into the current rollup window.
// Buckets land in the window chosen at write time via get_stats_date_default,
// so late flushes after a window rollover start a fresh row instead of
// stretching the old one.
func (q queries) RecordEndpointStats(ctx context.Context, buckets []domain.EndpointStatBucket) error {
	for _, b := range buckets {
		var projectID *string
		if b.ProjectID != nil {
			s := b.ProjectID.String()
			projectID = &s
		}
		var warehouseID *uuid.UUID
		if b.WarehouseID != nil {
			w := uuid.UUID(*b.WarehouseID)
			warehouseID = &w
		}
		_, err := q.db.Exec(ctx,
			`INSERT INTO endpoint_stats (project_id, warehouse_id, matched_path, status_code, count)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (project_id, warehouse_id, matched_path, status_code, valid_until)
			 DO UPDATE SET count = endpoint_stats.count + EXCLUDED.count`,
			projectID, warehouseID, b.MatchedPath, b.StatusCode, b.Count)
		if err != nil {
			return mapPgError(err, "record endpoint stats", nil)
		}
	}
	return nil
}

// UpdateWarehouseStatistics takes a fresh snapshot of active table and view
// counts and appends it to the time series.
func (t *Tx) UpdateWarehouseStatistics(ctx context.Context, warehouse domain.WarehouseID) (*domain.WarehouseStatistics, error) {
	stats := &domain.WarehouseStatistics{
		StatisticsID: domain.NewStatisticsID(),
		WarehouseID:  warehouse,
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO statistics (statistics_id, warehouse_id, number_of_tables, number_of_views)
		 SELECT $1, w.warehouse_id,
			(SELECT count(*) FROM tabular t JOIN namespace n ON n.namespace_id = t.namespace_id
			 WHERE n.warehouse_id = w.warehouse_id AND t.typ = 'table' AND t.deleted_at IS NULL),
			(SELECT count(*) FROM tabular t JOIN namespace n ON n.namespace_id = t.namespace_id
			 WHERE n.warehouse_id = w.warehouse_id AND t.typ = 'view' AND t.deleted_at IS NULL)
		 FROM warehouse w WHERE w.warehouse_id = $2
		 RETURNING number_of_tables, number_of_views, taken_at`,
		uuid.UUID(stats.StatisticsID), uuid.UUID(warehouse),
	).Scan(&stats.NumberOfTables, &stats.NumberOfViews, &stats.TakenAt)
	if err != nil {
		return nil, mapPgError(err, "update warehouse statistics",
			domain.NotFound("warehouse %s not found", warehouse))
	}
	return stats, nil
}

// SetScalar stores an arbitrary JSON value under a well-known key. Used for
// operational watermarks such as the endpoint stats flusher's last flush.
func (q queries) SetScalar(ctx context.Context, key string, value []byte) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO scalars (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	return mapPgError(err, "set scalar", nil)
}

// GetScalar returns the stored value and its update time, or NotFound.
func (q queries) GetScalar(ctx context.Context, key string) ([]byte, time.Time, error) {
	var (
		value     []byte
		updatedAt time.Time
	)
	err := q.db.QueryRow(ctx,
		`SELECT value, updated_at FROM scalars WHERE key = $1`, key,
	).Scan(&value, &updatedAt)
	if err != nil {
		return nil, time.Time{}, mapPgError(err, "get scalar",
			domain.NotFound("scalar %q not found", key))
	}
	return value, updatedAt, nil
}
