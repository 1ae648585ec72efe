package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/pg"
)

const (
	sqlCreateTask = `
INSERT INTO queue_tasks (id, queue, task_type, task_name, payload, status, priority,
	retry_count, max_retries, scheduled_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	sqlClaimTask = `
UPDATE queue_tasks SET status = 'processing', locked_until = $3, locked_by = $4
WHERE id = (
	SELECT id FROM queue_tasks
	WHERE queue = ANY($1)
		AND scheduled_at <= $2
		AND (status = 'pending' OR (status = 'processing' AND locked_until <= $2))
	ORDER BY priority DESC, scheduled_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, queue, task_type, task_name, payload, status, priority,
	retry_count, max_retries, scheduled_at, locked_until, locked_by, processed_at, error, created_at`

	sqlCompleteTask = `
UPDATE queue_tasks SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL
WHERE id = $1`

	sqlFailTask = `
UPDATE queue_tasks SET
	retry_count = retry_count + 1,
	error = $2,
	locked_until = NULL,
	locked_by = NULL,
	status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
	scheduled_at = $3 + make_interval(secs => 5 * (retry_count + 1) * (retry_count + 1))
WHERE id = $1`

	sqlMoveToDLQ = `
WITH moved AS (
	DELETE FROM queue_tasks WHERE id = $1
	RETURNING id, queue, task_name, payload, priority, retry_count, error, created_at
)
INSERT INTO queue_tasks_dlq (id, queue, task_name, payload, priority, retry_count, error, created_at, failed_at)
SELECT id, queue, task_name, payload, priority, retry_count, COALESCE(error, ''), created_at, $2 FROM moved`

	sqlPendingTaskByName = `
SELECT id, queue, task_type, task_name, payload, status, priority,
	retry_count, max_retries, scheduled_at, locked_until, locked_by, processed_at, error, created_at
FROM queue_tasks
WHERE task_name = $1 AND status IN ('pending', 'processing')
ORDER BY scheduled_at ASC
LIMIT 1`
)

// PGStorage implements the queue repositories on PostgreSQL.
// Its DBTX may be a pool or a transaction, so tasks can be enqueued
// atomically with the caller's own writes.
type PGStorage struct {
	db  pg.DBTX
	now func() time.Time
}

// NewPGStorage creates a PostgreSQL backed storage.
func NewPGStorage(db pg.DBTX) *PGStorage {
	return &PGStorage{db: db, now: time.Now}
}

// WithDB returns a storage writing through db, typically a pgx.Tx.
func (s *PGStorage) WithDB(db pg.DBTX) *PGStorage {
	return &PGStorage{db: db, now: s.now}
}

// CreateTask implements EnqueuerRepository and SchedulerRepository.
func (s *PGStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}
	_, err := s.db.Exec(ctx, sqlCreateTask,
		task.ID, task.Queue, task.TaskType, task.TaskName, task.Payload, task.Status, task.Priority,
		task.RetryCount, task.MaxRetries, task.ScheduledAt, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ClaimTask implements WorkerRepository.
func (s *PGStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	now := s.now()
	task, err := scanTask(s.db.QueryRow(ctx, sqlClaimTask, queues, now, now.Add(lockDuration), workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTaskToClaim
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// CompleteTask implements WorkerRepository.
func (s *PGStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.execOne(ctx, sqlCompleteTask, taskID, s.now())
}

// FailTask implements WorkerRepository.
func (s *PGStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	return s.execOne(ctx, sqlFailTask, taskID, errorMsg, s.now())
}

// MoveToDLQ implements WorkerRepository.
func (s *PGStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	return s.execOne(ctx, sqlMoveToDLQ, taskID, s.now())
}

// GetPendingTaskByName implements SchedulerRepository.
func (s *PGStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	task, err := scanTask(s.db.QueryRow(ctx, sqlPendingTaskByName, taskName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("get pending task: %w", err)
	}
	return task, nil
}

func (s *PGStorage) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	if err := row.Scan(
		&t.ID, &t.Queue, &t.TaskType, &t.TaskName, &t.Payload, &t.Status, &t.Priority,
		&t.RetryCount, &t.MaxRetries, &t.ScheduledAt, &t.LockedUntil, &t.LockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
