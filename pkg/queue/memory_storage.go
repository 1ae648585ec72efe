package queue

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements every queue repository interface in memory.
// It is meant for tests and local development.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dlq   map[uuid.UUID]*Task
	now   func() time.Time
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		dlq:   make(map[uuid.UUID]*Task),
		now:   time.Now,
	}
}

// CreateTask implements EnqueuerRepository and SchedulerRepository.
func (ms *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	cp := *task
	ms.tasks[task.ID] = &cp
	return nil
}

// ClaimTask implements WorkerRepository. Processing tasks whose lock has
// expired are claimable again.
func (ms *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, task := range ms.tasks {
		if !slices.Contains(queues, task.Queue) || task.ScheduledAt.After(now) {
			continue
		}
		switch task.Status {
		case TaskStatusPending:
		case TaskStatusProcessing:
			if task.LockedUntil == nil || task.LockedUntil.After(now) {
				continue
			}
		default:
			continue
		}
		if best == nil || task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
			best = task
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockedUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockedUntil
	best.LockedBy = &workerID

	cp := *best
	return &cp, nil
}

// CompleteTask implements WorkerRepository.
func (ms *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := ms.now()
	task.Status = TaskStatusCompleted
	task.ProcessedAt = &now
	task.LockedUntil = nil
	task.LockedBy = nil
	return nil
}

// FailTask implements WorkerRepository. The task is rescheduled with a
// quadratic backoff until its retries are exhausted.
func (ms *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.RetryCount++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil
	if task.RetryCount >= task.MaxRetries {
		task.Status = TaskStatusFailed
		return nil
	}
	task.Status = TaskStatusPending
	task.ScheduledAt = ms.now().Add(retryDelay(task.RetryCount))
	return nil
}

// MoveToDLQ implements WorkerRepository.
func (ms *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = TaskStatusFailed
	ms.dlq[taskID] = task
	delete(ms.tasks, taskID)
	return nil
}

// GetPendingTaskByName implements SchedulerRepository.
func (ms *MemoryStorage) GetPendingTaskByName(_ context.Context, taskName string) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, task := range ms.tasks {
		if task.TaskName == taskName && (task.Status == TaskStatusPending || task.Status == TaskStatusProcessing) {
			cp := *task
			return &cp, nil
		}
	}
	return nil, ErrTaskNotFound
}

// Tasks returns a snapshot of live tasks ordered by creation time.
func (ms *MemoryStorage) Tasks() []Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return snapshot(ms.tasks)
}

// DeadLetters returns a snapshot of tasks moved to the dead letter queue.
func (ms *MemoryStorage) DeadLetters() []Task {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return snapshot(ms.dlq)
}

func snapshot(m map[uuid.UUID]*Task) []Task {
	out := make([]Task, 0, len(m))
	for _, t := range m {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b Task) int { return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano()) })
	return out
}
