package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

type sendReceipt struct {
	InvoiceID string `json:"invoice_id"`
}

func TestEnqueuer(t *testing.T) {
	t.Parallel()

	t.Run("names task after payload type", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage, queue.WithDefaultQueue("billing"))
		require.NoError(t, err)

		require.NoError(t, enq.Enqueue(context.Background(), &sendReceipt{InvoiceID: "inv-1"}))

		tasks := storage.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, queue.TaskName[sendReceipt](), tasks[0].TaskName)
		assert.Equal(t, "billing", tasks[0].Queue)
		assert.Equal(t, queue.TaskStatusPending, tasks[0].Status)
		assert.JSONEq(t, `{"invoice_id":"inv-1"}`, string(tasks[0].Payload))
	})

	t.Run("rejects nil payload", func(t *testing.T) {
		t.Parallel()
		enq, err := queue.NewEnqueuer(queue.NewMemoryStorage())
		require.NoError(t, err)
		assert.ErrorIs(t, enq.Enqueue(context.Background(), nil), queue.ErrPayloadNil)
	})

	t.Run("rejects invalid priority", func(t *testing.T) {
		t.Parallel()
		enq, err := queue.NewEnqueuer(queue.NewMemoryStorage())
		require.NoError(t, err)
		err = enq.Enqueue(context.Background(), sendReceipt{}, queue.WithPriority(101))
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)
	})

	t.Run("using writes through another repository", func(t *testing.T) {
		t.Parallel()
		primary := queue.NewMemoryStorage()
		scoped := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(primary)
		require.NoError(t, err)

		require.NoError(t, enq.Using(scoped).Enqueue(context.Background(), sendReceipt{}))
		assert.Empty(t, primary.Tasks())
		assert.Len(t, scoped.Tasks(), 1)
	})

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()
		_, err := queue.NewEnqueuer(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})
}

func TestMemoryStorageClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	now := time.Now()

	low := &queue.Task{ID: uuid.New(), Queue: "default", TaskName: "a", Status: queue.TaskStatusPending, Priority: queue.PriorityLow, ScheduledAt: now.Add(-time.Minute), CreatedAt: now}
	high := &queue.Task{ID: uuid.New(), Queue: "default", TaskName: "b", Status: queue.TaskStatusPending, Priority: queue.PriorityHigh, ScheduledAt: now.Add(-time.Second), CreatedAt: now}
	future := &queue.Task{ID: uuid.New(), Queue: "default", TaskName: "c", Status: queue.TaskStatusPending, Priority: queue.PriorityMax, ScheduledAt: now.Add(time.Hour), CreatedAt: now}
	other := &queue.Task{ID: uuid.New(), Queue: "other", TaskName: "d", Status: queue.TaskStatusPending, Priority: queue.PriorityMax, ScheduledAt: now.Add(-time.Hour), CreatedAt: now}
	for _, task := range []*queue.Task{low, high, future, other} {
		require.NoError(t, storage.CreateTask(ctx, task))
	}

	worker := uuid.New()
	claimed, err := storage.ClaimTask(ctx, worker, []string{"default"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, high.ID, claimed.ID)
	assert.Equal(t, queue.TaskStatusProcessing, claimed.Status)
	require.NotNil(t, claimed.LockedBy)
	assert.Equal(t, worker, *claimed.LockedBy)

	claimed, err = storage.ClaimTask(ctx, worker, []string{"default"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, low.ID, claimed.ID)

	_, err = storage.ClaimTask(ctx, worker, []string{"default"}, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
}

func TestMemoryStorageExpiredLockIsReclaimed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	storage := queue.NewMemoryStorage()
	task := &queue.Task{ID: uuid.New(), Queue: "default", TaskName: "a", Status: queue.TaskStatusPending, ScheduledAt: time.Now().Add(-time.Second)}
	require.NoError(t, storage.CreateTask(ctx, task))

	_, err := storage.ClaimTask(ctx, uuid.New(), []string{"default"}, -time.Second)
	require.NoError(t, err)

	again, err := storage.ClaimTask(ctx, uuid.New(), []string{"default"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, again.ID)
}

func TestWorkerProcessTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newTask := func(t *testing.T, storage *queue.MemoryStorage, name string, payload any, maxRetries int8) *queue.Task {
		t.Helper()
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		task := &queue.Task{
			ID: uuid.New(), Queue: queue.DefaultQueueName, TaskName: name, Payload: body,
			Status: queue.TaskStatusPending, MaxRetries: maxRetries, ScheduledAt: time.Now().Add(-time.Second),
		}
		require.NoError(t, storage.CreateTask(ctx, task))
		claimed, err := storage.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
		require.NoError(t, err)
		return claimed
	}

	t.Run("success completes task", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		w, err := queue.NewWorker(storage)
		require.NoError(t, err)

		var got string
		w.RegisterHandlers(queue.NewTaskHandler(func(_ context.Context, p sendReceipt) error {
			got = p.InvoiceID
			return nil
		}))

		task := newTask(t, storage, queue.TaskName[sendReceipt](), sendReceipt{InvoiceID: "inv-9"}, 3)
		require.NoError(t, w.ProcessTask(task))
		assert.Equal(t, "inv-9", got)
		assert.Equal(t, queue.TaskStatusCompleted, storage.Tasks()[0].Status)
	})

	t.Run("failure reschedules with backoff", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		w, err := queue.NewWorker(storage)
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, sendReceipt) error {
			return errors.New("smtp down")
		}))

		task := newTask(t, storage, queue.TaskName[sendReceipt](), sendReceipt{}, 3)
		require.NoError(t, w.ProcessTask(task))

		stored := storage.Tasks()[0]
		assert.Equal(t, queue.TaskStatusPending, stored.Status)
		assert.EqualValues(t, 1, stored.RetryCount)
		require.NotNil(t, stored.Error)
		assert.Equal(t, "smtp down", *stored.Error)
		assert.True(t, stored.ScheduledAt.After(time.Now()))
	})

	t.Run("exhausted retries go to dead letter queue", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		w, err := queue.NewWorker(storage)
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewPeriodicTaskHandler("sweep", func(context.Context) error {
			panic("boom")
		}))

		task := newTask(t, storage, "sweep", nil, 0)
		require.NoError(t, w.ProcessTask(task))
		assert.Empty(t, storage.Tasks())
		require.Len(t, storage.DeadLetters(), 1)
		assert.Contains(t, *storage.DeadLetters()[0].Error, "panic in handler")
	})

	t.Run("final retry goes to dead letter queue", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		w, err := queue.NewWorker(storage)
		require.NoError(t, err)
		w.RegisterHandlers(queue.NewTaskHandler(func(context.Context, sendReceipt) error {
			return errors.New("smtp down")
		}))

		body, err := json.Marshal(sendReceipt{InvoiceID: "inv-3"})
		require.NoError(t, err)
		require.NoError(t, storage.CreateTask(ctx, &queue.Task{
			ID: uuid.New(), Queue: queue.DefaultQueueName, TaskName: queue.TaskName[sendReceipt](),
			Payload: body, Status: queue.TaskStatusPending, RetryCount: 2, MaxRetries: 3,
			ScheduledAt: time.Now().Add(-time.Second),
		}))
		task, err := storage.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
		require.NoError(t, err)

		require.NoError(t, w.ProcessTask(task))
		assert.Empty(t, storage.Tasks())
		require.Len(t, storage.DeadLetters(), 1)
		assert.EqualValues(t, 3, storage.DeadLetters()[0].RetryCount)
		assert.Equal(t, "smtp down", *storage.DeadLetters()[0].Error)
	})

	t.Run("missing handler", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		w, err := queue.NewWorker(storage)
		require.NoError(t, err)

		task := newTask(t, storage, "unknown", nil, 3)
		assert.ErrorIs(t, w.ProcessTask(task), queue.ErrHandlerNotFound)
		assert.Len(t, storage.DeadLetters(), 1)
	})
}

func TestWorkerRun(t *testing.T) {
	t.Parallel()

	t.Run("requires handlers", func(t *testing.T) {
		t.Parallel()
		w, err := queue.NewWorker(queue.NewMemoryStorage())
		require.NoError(t, err)
		assert.ErrorIs(t, w.Run(context.Background())(), queue.ErrNoHandlers)
	})

	t.Run("processes enqueued tasks until cancelled", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)
		w, err := queue.NewWorker(storage, queue.WithPullInterval(5*time.Millisecond), queue.WithMaxConcurrentTasks(2))
		require.NoError(t, err)

		done := make(chan string, 1)
		w.RegisterHandlers(queue.NewTaskHandler(func(_ context.Context, p sendReceipt) error {
			done <- p.InvoiceID
			return nil
		}))
		require.NoError(t, enq.Enqueue(context.Background(), sendReceipt{InvoiceID: "inv-2"}))

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- w.Run(ctx)() }()

		select {
		case id := <-done:
			assert.Equal(t, "inv-2", id)
		case <-time.After(2 * time.Second):
			t.Fatal("task was not processed")
		}
		cancel()
		require.NoError(t, <-errCh)
	})
}

func TestScheduler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("keeps a single pending instance", func(t *testing.T) {
		t.Parallel()
		storage := queue.NewMemoryStorage()
		s, err := queue.NewScheduler(storage)
		require.NoError(t, err)
		require.NoError(t, s.AddTask("billing.sweep", queue.EveryInterval(time.Minute)))

		s.CheckTasks(ctx)
		s.CheckTasks(ctx)

		tasks := storage.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, "billing.sweep", tasks[0].TaskName)
		assert.Equal(t, queue.TaskTypePeriodic, tasks[0].TaskType)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		t.Parallel()
		s, err := queue.NewScheduler(queue.NewMemoryStorage())
		require.NoError(t, err)
		require.NoError(t, s.AddTask("x", queue.Hourly(0)))
		assert.ErrorIs(t, s.AddTask("x", queue.Hourly(0)), queue.ErrTaskAlreadyRegistered)
	})

	t.Run("run without tasks", func(t *testing.T) {
		t.Parallel()
		s, err := queue.NewScheduler(queue.NewMemoryStorage())
		require.NoError(t, err)
		assert.ErrorIs(t, s.Run(ctx)(), queue.ErrSchedulerNotConfigured)
	})
}

func TestSchedules(t *testing.T) {
	t.Parallel()
	from := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, from.Add(15*time.Minute), queue.EveryInterval(15*time.Minute).Next(from))
	assert.Equal(t, time.Date(2025, 3, 10, 14, 45, 0, 0, time.UTC), queue.Hourly(45).Next(from))
	assert.Equal(t, time.Date(2025, 3, 10, 15, 10, 0, 0, time.UTC), queue.Hourly(10).Next(from))
	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), queue.DailyAt(2, 0).Next(from))
	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), queue.DailyAt(18, 0).Next(from))
}
