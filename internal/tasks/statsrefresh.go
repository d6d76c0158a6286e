package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

// StatsRefreshPayload drives the periodic warehouse statistics snapshot.
// The cron expression rides along in the payload so the completed task can
// enqueue its own successor.
type StatsRefreshPayload struct {
	Cron string `json:"cron"`
}

// DefaultStatsCron snapshots hourly on the hour.
const DefaultStatsCron = "0 * * * *"

// StatsRefreshHandler recomputes table and view counts for every warehouse
// and appends them to the statistics time series, then schedules the next
// run from the cron expression.
type StatsRefreshHandler struct {
	store  catalog.Store
	logger *slog.Logger
}

// NewStatsRefreshHandler wires the statistics-refresh queue consumer.
func NewStatsRefreshHandler(store catalog.Store, logger *slog.Logger) *StatsRefreshHandler {
	return &StatsRefreshHandler{
		store:  store,
		logger: logger.With("component", "stats-refresh"),
	}
}

func (h *StatsRefreshHandler) QueueName() string { return domain.QueueStatsRefresh }

func (h *StatsRefreshHandler) Execute(ctx context.Context, task domain.Task) error {
	var payload StatsRefreshPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decode stats refresh payload: %w", err)
	}
	if payload.Cron == "" {
		payload.Cron = DefaultStatsCron
	}
	schedule, err := cron.ParseStandard(payload.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron %q: %w", payload.Cron, err)
	}

	projects, err := h.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	var snapshots int
	for _, project := range projects {
		warehouses, err := h.store.ListWarehouses(ctx, project.ProjectID)
		if err != nil {
			return err
		}
		for _, wh := range warehouses {
			err := catalog.RunWriteTx(ctx, h.store, func(tx catalog.Transaction) error {
				_, err := tx.UpdateWarehouseStatistics(ctx, wh.ID)
				return err
			})
			if err != nil {
				// a deleted warehouse between list and snapshot is fine
				if domain.IsNotFound(err) {
					continue
				}
				return err
			}
			snapshots++
		}
	}
	h.logger.Info("warehouse statistics refreshed", "snapshots", snapshots)

	// self-perpetuate: the next instance is enqueued only after this one
	// succeeded, so a failing refresh retries via the queue instead of
	// piling up new instances
	next := schedule.Next(time.Now())
	return catalog.RunWriteTx(ctx, h.store, func(tx catalog.Transaction) error {
		_, err := tx.EnqueueTask(ctx, catalog.TaskCreate{
			QueueName:    domain.QueueStatsRefresh,
			Payload:      task.Payload,
			ScheduledFor: next,
		})
		return err
	})
}

// EnsureStatsSchedule enqueues the initial statistics-refresh task when the
// queue has none pending. Called at startup.
func EnsureStatsSchedule(ctx context.Context, store catalog.Store, cronExpr string) error {
	if cronExpr == "" {
		cronExpr = DefaultStatsCron
	}
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return &domain.Error{
			Type:    domain.ErrTypeInvalidQueueConfig,
			Code:    400,
			Message: fmt.Sprintf("invalid statistics cron %q", cronExpr),
		}
	}
	existing, err := store.ListTasks(ctx, catalog.TaskFilter{
		QueueName: domain.QueueStatsRefresh,
		States:    []domain.TaskState{domain.TaskStatePending, domain.TaskStateClaimed},
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	payload, _ := json.Marshal(StatsRefreshPayload{Cron: cronExpr})
	return catalog.RunWriteTx(ctx, store, func(tx catalog.Transaction) error {
		_, err := tx.EnqueueTask(ctx, catalog.TaskCreate{
			QueueName:    domain.QueueStatsRefresh,
			Payload:      payload,
			ScheduledFor: schedule.Next(time.Now()),
		})
		return err
	})
}
