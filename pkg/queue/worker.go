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

// WorkerRepository defines the storage operations a worker needs.
type WorkerRepository interface {
	// ClaimTask atomically locks the next due task of one of queues.
	// It returns ErrNoTaskToClaim when nothing is due.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	// FailTask records errorMsg, increments the retry count and reschedules the task.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueues sets which queues the worker pulls from.
func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

// WithPullInterval sets how often the worker polls for due tasks.
func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pullInterval = d
		}
	}
}

// WithLockTimeout sets both the claim lock and the per-task execution deadline.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTimeout = d
		}
	}
}

// WithMaxConcurrentTasks bounds the number of tasks processed in parallel.
func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.sem = make(chan struct{}, n)
		}
	}
}

// WithWorkerLogger sets the logger for the worker.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker claims tasks from storage and dispatches them to registered handlers.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool

	pullInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger
}

// NewWorker creates a new task worker.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	w := &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queues:       []string{DefaultQueueName},
		workerID:     uuid.New(),
		sem:          make(chan struct{}, 1),
		pullInterval: 5 * time.Second,
		lockTimeout:  5 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RegisterHandlers registers task handlers, replacing any with the same name.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Run returns a function suitable for errgroup. It polls until ctx is done
// and then waits for in-flight tasks to finish.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		w.mu.Lock()
		if w.running {
			w.mu.Unlock()
			return ErrWorkerAlreadyStarted
		}
		if len(w.handlers) == 0 {
			w.mu.Unlock()
			return ErrNoHandlers
		}
		w.running = true
		w.mu.Unlock()

		w.logger.Info("worker started",
			slog.String("worker_id", w.workerID.String()),
			slog.Any("queues", w.queues),
			slog.Int("max_concurrent", cap(w.sem)))

		ticker := time.NewTicker(w.pullInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.wg.Wait()
				w.mu.Lock()
				w.running = false
				w.mu.Unlock()
				w.logger.Info("worker stopped", slog.String("worker_id", w.workerID.String()))
				return nil
			case <-ticker.C:
				w.dispatch(ctx)
			}
		}
	}
}

// dispatch claims and processes tasks while free slots remain.
func (w *Worker) dispatch(ctx context.Context) {
	for {
		select {
		case w.sem <- struct{}{}:
		default:
			return
		}

		task, err := w.repo.ClaimTask(ctx, w.workerID, w.queues, w.lockTimeout)
		if err != nil || task == nil {
			<-w.sem
			if err != nil && !errors.Is(err, ErrNoTaskToClaim) && ctx.Err() == nil {
				w.logger.Error("failed to claim task",
					slog.String("worker_id", w.workerID.String()),
					slog.String("error", err.Error()))
			}
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			if err := w.ProcessTask(task); err != nil && !errors.Is(err, ErrHandlerNotFound) {
				w.logger.Error("failed to process task",
					slog.String("worker_id", w.workerID.String()),
					slog.String("task_id", task.ID.String()),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// ProcessTask executes a claimed task with its handler and records the outcome.
// The handler context is detached from the worker lifecycle so shutdown lets it finish.
func (w *Worker) ProcessTask(task *Task) (retErr error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()

	if !ok {
		w.logger.Error("no handler registered for task type",
			slog.String("task_id", task.ID.String()),
			slog.String("task_name", task.TaskName))
		if err := w.repo.FailTask(ctx, task.ID, "no handler registered for task type: "+task.TaskName); err != nil {
			return fmt.Errorf("mark task %s as failed: %w", task.ID, err)
		}
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("move task %s to DLQ: %w", task.ID, err)
		}
		return ErrHandlerNotFound
	}

	defer func() {
		if r := recover(); r != nil {
			retErr = w.fail(ctx, task, fmt.Errorf("panic in handler: %v", r), time.Since(start))
		}
	}()

	if err := handler.Handle(ctx, task.Payload); err != nil {
		return w.fail(ctx, task, err, time.Since(start))
	}

	if err := w.repo.CompleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("mark task %s as completed: %w", task.ID, err)
	}

	w.logger.Debug("task completed",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// fail records the error; once retries are exhausted the task goes to the DLQ.
func (w *Worker) fail(ctx context.Context, task *Task, execErr error, duration time.Duration) error {
	w.logger.Error("task failed",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.TaskName),
		slog.Int("retry_count", int(task.RetryCount)),
		slog.Int("max_retries", int(task.MaxRetries)),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if err := w.repo.FailTask(ctx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("mark task %s as failed: %w", task.ID, err)
	}

	// FailTask has already counted this attempt in storage.
	if task.RetryCount+1 >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("move task %s to DLQ after max retries: %w", task.ID, err)
		}
		w.logger.Warn("task moved to dead letter queue",
			slog.String("task_id", task.ID.String()),
			slog.String("task_name", task.TaskName))
	}
	return nil
}
