package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchedulerRepository defines the storage operations the scheduler needs.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	// GetPendingTaskByName returns ErrTaskNotFound when no pending task with that name exists.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often the scheduler looks for due periodic tasks.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// SchedulerTaskOption configures a single periodic task.
type SchedulerTaskOption func(*scheduledTask)

// WithTaskQueue sets the queue periodic task instances are created in.
func WithTaskQueue(queue string) SchedulerTaskOption {
	return func(t *scheduledTask) {
		if queue != "" {
			t.queue = queue
		}
	}
}

// WithTaskPriority sets the priority of periodic task instances.
func WithTaskPriority(priority Priority) SchedulerTaskOption {
	return func(t *scheduledTask) {
		if priority.Valid() {
			t.priority = priority
		}
	}
}

// WithTaskMaxRetries sets the retry budget of periodic task instances.
func WithTaskMaxRetries(maxRetries int8) SchedulerTaskOption {
	return func(t *scheduledTask) {
		if maxRetries >= 0 && maxRetries <= 10 {
			t.maxRetries = maxRetries
		}
	}
}

// Scheduler materialises periodic tasks into the queue. At most one pending
// instance per task name exists at any time.
type Scheduler struct {
	repo     SchedulerRepository
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type scheduledTask struct {
	name            string
	schedule        Schedule
	queue           string
	priority        Priority
	maxRetries      int8
	lastScheduledAt *time.Time
}

// NewScheduler creates a new periodic task scheduler.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	s := &Scheduler{
		repo:     repo,
		tasks:    make(map[string]*scheduledTask),
		interval: 30 * time.Second,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddTask registers a periodic task. The worker must have a handler with the same name.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	task := &scheduledTask{
		name:       name,
		schedule:   schedule,
		queue:      DefaultQueueName,
		priority:   PriorityDefault,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}
	s.tasks[name] = task

	s.logger.Info("registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Run returns a function suitable for errgroup. It checks immediately and
// then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		s.mu.RLock()
		count := len(s.tasks)
		s.mu.RUnlock()
		if count == 0 {
			return ErrSchedulerNotConfigured
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.CheckTasks(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return nil
			case <-ticker.C:
				s.CheckTasks(ctx)
			}
		}
	}
}

// CheckTasks creates every periodic task that is due and has no pending instance.
func (s *Scheduler) CheckTasks(ctx context.Context) {
	s.mu.RLock()
	tasks := make([]*scheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.RUnlock()

	now := s.now()
	for _, task := range tasks {
		if err := s.scheduleIfDue(ctx, task, now); err != nil {
			s.logger.Error("failed to schedule periodic task",
				slog.String("task_name", task.name),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Scheduler) scheduleIfDue(ctx context.Context, task *scheduledTask, now time.Time) error {
	s.mu.RLock()
	last := task.lastScheduledAt
	s.mu.RUnlock()

	var next time.Time
	if last == nil {
		next = task.schedule.Next(now)
	} else {
		next = task.schedule.Next(*last)
		if next.After(now) {
			return nil
		}
	}

	existing, err := s.repo.GetPendingTaskByName(ctx, task.name)
	switch {
	case err == nil && existing != nil:
		s.markScheduled(task, existing.ScheduledAt)
		return nil
	case err != nil && !errors.Is(err, ErrTaskNotFound):
		return fmt.Errorf("look up pending task: %w", err)
	}

	if err := s.repo.CreateTask(ctx, &Task{
		ID:          uuid.New(),
		Queue:       task.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    task.name,
		Status:      TaskStatusPending,
		Priority:    task.priority,
		MaxRetries:  task.maxRetries,
		ScheduledAt: next,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("create periodic task: %w", err)
	}
	s.markScheduled(task, next)

	s.logger.Debug("created periodic task",
		slog.String("task_name", task.name),
		slog.Time("scheduled_for", next))
	return nil
}

func (s *Scheduler) markScheduled(task *scheduledTask, at time.Time) {
	s.mu.Lock()
	task.lastScheduledAt = &at
	s.mu.Unlock()
}
