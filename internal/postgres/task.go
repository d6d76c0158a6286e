package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lakekeeper/lakekeeper/internal/catalog"
	"github.com/lakekeeper/lakekeeper/internal/domain"
)

const taskColumns = `task_id, queue_name, payload, scheduled_for, attempts, state,
	lease_expires_at, heartbeat_at, created_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		id           uuid.UUID
		queueName    string
		payload      []byte
		scheduledFor time.Time
		attempts     int
		state        string
		leaseExpires *time.Time
		heartbeatAt  *time.Time
		createdAt    time.Time
	)
	err := row.Scan(&id, &queueName, &payload, &scheduledFor, &attempts,
		&state, &leaseExpires, &heartbeatAt, &createdAt)
	if err != nil {
		return nil, err
	}
	return &domain.Task{
		ID:             domain.TaskID(id),
		QueueName:      queueName,
		Payload:        payload,
		ScheduledFor:   scheduledFor,
		Attempts:       attempts,
		State:          domain.TaskState(state),
		LeaseExpiresAt: leaseExpires,
		HeartbeatAt:    heartbeatAt,
		CreatedAt:      createdAt,
	}, nil
}

// ClaimTasks atomically moves up to max due pending tasks to claimed with a
// fresh lease. FOR UPDATE SKIP LOCKED lets concurrent workers claim disjoint
// batches without blocking each other.
func (q queries) ClaimTasks(ctx context.Context, queue string, max int, lease time.Duration) ([]domain.Task, error) {
	rows, err := q.db.Query(ctx,
		`UPDATE task SET state = 'claimed', attempts = attempts + 1,
			lease_expires_at = now() + $3, heartbeat_at = now()
		 WHERE task_id IN (
			SELECT task_id FROM task
			WHERE queue_name = $1 AND state = 'pending' AND scheduled_for <= now()
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		queue, max, lease)
	if err != nil {
		return nil, mapPgError(err, "claim tasks", nil)
	}
	defer rows.Close()

	var result []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, mapPgError(err, "scan task", nil)
		}
		result = append(result, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "claim tasks", nil)
	}
	return result, nil
}

// HeartbeatTask extends the lease of a claimed task. Expired or completed
// tasks cannot be heartbeat, which tells the worker it lost the lease.
func (q queries) HeartbeatTask(ctx context.Context, id domain.TaskID, lease time.Duration) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE task SET lease_expires_at = now() + $2, heartbeat_at = now()
		 WHERE task_id = $1 AND state = 'claimed'`,
		uuid.UUID(id), lease)
	if err != nil {
		return mapPgError(err, "heartbeat task", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("task %s is not claimed", id)
	}
	return nil
}

func (q queries) CompleteTask(ctx context.Context, id domain.TaskID) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE task SET state = 'succeeded', lease_expires_at = NULL
		 WHERE task_id = $1 AND state = 'claimed'`,
		uuid.UUID(id))
	if err != nil {
		return mapPgError(err, "complete task", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("task %s is not claimed", id)
	}
	return nil
}

// FailTask returns the task to pending with a retry delay, or moves it to
// failed once attempts exceed maxAttempts.
func (q queries) FailTask(ctx context.Context, id domain.TaskID, maxAttempts int, retryDelay time.Duration) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE task SET
			state = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
			scheduled_for = now() + $3,
			lease_expires_at = NULL
		 WHERE task_id = $1 AND state = 'claimed'`,
		uuid.UUID(id), maxAttempts, retryDelay)
	if err != nil {
		return mapPgError(err, "fail task", nil)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("task %s is not claimed", id)
	}
	return nil
}

// ReapExpiredLeases reverts claimed tasks with expired leases to pending so
// another worker picks them up. The attempt was already counted at claim.
func (q queries) ReapExpiredLeases(ctx context.Context) (int, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE task SET state = 'pending', lease_expires_at = NULL
		 WHERE state = 'claimed' AND lease_expires_at < now()`)
	if err != nil {
		return 0, mapPgError(err, "reap expired leases", nil)
	}
	return int(tag.RowsAffected()), nil
}

func taskWhereClause(filter catalog.TaskFilter) (string, []any) {
	where := ` WHERE true`
	var args []any
	if filter.QueueName != "" {
		args = append(args, filter.QueueName)
		where += fmt.Sprintf(" AND queue_name = $%d", len(args))
	}
	if filter.EntityID != nil {
		args = append(args, filter.EntityID.String())
		where += fmt.Sprintf(" AND payload ->> 'tabular_id' = $%d", len(args))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		args = append(args, states)
		where += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	return where, args
}

func (q queries) ListTasks(ctx context.Context, filter catalog.TaskFilter) ([]domain.Task, error) {
	where, args := taskWhereClause(filter)
	rows, err := q.db.Query(ctx,
		`SELECT `+taskColumns+` FROM task`+where+` ORDER BY created_at DESC LIMIT 1000`,
		args...)
	if err != nil {
		return nil, mapPgError(err, "list tasks", nil)
	}
	defer rows.Close()

	var result []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, mapPgError(err, "scan task", nil)
		}
		result = append(result, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list tasks", nil)
	}
	return result, nil
}

func (t *Tx) EnqueueTask(ctx context.Context, create catalog.TaskCreate) (domain.TaskID, error) {
	id := domain.NewTaskID()
	scheduledFor := create.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now().UTC()
	}
	payload := create.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO task (task_id, queue_name, payload, scheduled_for)
		 VALUES ($1, $2, $3, $4)`,
		uuid.UUID(id), create.QueueName, payload, scheduledFor)
	if err != nil {
		return domain.TaskID{}, mapPgError(err, "enqueue task", nil)
	}
	return id, nil
}

// CancelPendingTasks skips claimed tasks on purpose: a running purge keeps
// its lease and observes the undropped tabular itself.
func (t *Tx) CancelPendingTasks(ctx context.Context, filter catalog.TaskFilter) (int, error) {
	where, args := taskWhereClause(filter)
	tag, err := t.tx.Exec(ctx,
		`UPDATE task SET state = 'cancelled', lease_expires_at = NULL`+
			where+` AND state = 'pending'`, args...)
	if err != nil {
		return 0, mapPgError(err, "cancel pending tasks", nil)
	}
	return int(tag.RowsAffected()), nil
}
