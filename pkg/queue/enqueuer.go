package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository persists new tasks.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Enqueuer builds tasks from payloads and stores them.
type Enqueuer struct {
	repo            EnqueuerRepository
	defaultQueue    string
	defaultPriority Priority
	now             func() time.Time
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithDefaultQueue sets the queue used when Enqueue receives no WithQueue option.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(e *Enqueuer) {
		if queue != "" {
			e.defaultQueue = queue
		}
	}
}

// NewEnqueuer creates a new Enqueuer.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	e := &Enqueuer{
		repo:            repo,
		defaultQueue:    DefaultQueueName,
		defaultPriority: PriorityDefault,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Using returns a copy of the enqueuer writing through repo.
// It is how tasks are enqueued inside a caller's database transaction.
func (e *Enqueuer) Using(repo EnqueuerRepository) *Enqueuer {
	cp := *e
	cp.repo = repo
	return &cp
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue      string
	priority   Priority
	maxRetries int8
	delay      time.Duration
}

// WithQueue sets the queue for the task.
func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithPriority sets the priority for the task.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = priority }
}

// WithMaxRetries sets the maximum number of retries (0-10).
func WithMaxRetries(maxRetries int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}

// WithDelay postpones the first attempt.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// Enqueue stores payload as a new pending task named after its type.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	if payload == nil {
		return ErrPayloadNil
	}

	options := &enqueueOptions{
		queue:      e.defaultQueue,
		priority:   e.defaultPriority,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(options)
	}
	if !options.priority.Valid() {
		return ErrInvalidPriority
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload of type %T: %w", payload, err)
	}

	now := e.now()
	task := &Task{
		ID:          uuid.New(),
		Queue:       options.queue,
		TaskType:    TaskTypeOneTime,
		TaskName:    taskNameOf(payload),
		Payload:     body,
		Status:      TaskStatusPending,
		Priority:    options.priority,
		MaxRetries:  options.maxRetries,
		ScheduledAt: now.Add(options.delay),
		CreatedAt:   now,
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}
	return nil
}
