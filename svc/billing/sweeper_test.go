package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

func cancelling(resetAt time.Time) func(*billing.Record) {
	return func(r *billing.Record) {
		r.PlanCode = billing.PlanStarter
		r.Status = billing.StatusCancelling
		r.IsActive = true
		r.CycleResetAt = &resetAt
	}
}

func TestExpireCancelled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t)
	due := h.seedTenant(cancelling(testNow.Add(-time.Minute)))
	boundary := h.seedTenant(cancelling(testNow))
	future := h.seedTenant(cancelling(testNow.Add(time.Hour)))
	active := h.seedTenant(func(r *billing.Record) {
		reset := testNow.Add(-time.Hour)
		r.Status = billing.StatusActive
		r.IsActive = true
		r.CycleResetAt = &reset
	})

	n, err := h.svc.ExpireCancelled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, billing.StatusExpired, h.record(t, due).Status)
	assert.False(t, h.record(t, due).IsActive)
	assert.Equal(t, billing.StatusExpired, h.record(t, boundary).Status)
	assert.Equal(t, billing.StatusCancelling, h.record(t, future).Status)
	assert.True(t, h.record(t, future).IsActive)
	assert.Equal(t, billing.StatusActive, h.record(t, active).Status)

	entries := h.auditEntries(t)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "billing.expired", e.Action)
		assert.Equal(t, "CANCELLING", e.Previous["status"])
		assert.Equal(t, "EXPIRED", e.Current["status"])
	}
	assert.Len(t, h.notifications(t), 2)
	assert.Equal(t, 2.0, counterValue(t, h, "billing_sweeper_expired_total", nil))

	t.Run("second run is a no-op", func(t *testing.T) {
		n, err := h.svc.ExpireCancelled(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Len(t, h.auditEntries(t), 2)
	})

	t.Run("cycle end reached later", func(t *testing.T) {
		h.now = testNow.Add(2 * time.Hour)
		n, err := h.svc.ExpireCancelled(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, billing.StatusExpired, h.record(t, future).Status)
	})
}

func TestSweepHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := redis.NewLocker(client, "billing:test")

	t.Run("sweeps under the lock and releases it", func(t *testing.T) {
		h := newHarness(t)
		id := h.seedTenant(cancelling(testNow.Add(-time.Minute)))

		handler := billing.NewSweepHandler(h.svc, locker, time.Minute, nil)
		assert.Equal(t, billing.SweepTaskName, handler.Name())
		require.NoError(t, handler.Handle(ctx, nil))
		assert.Equal(t, billing.StatusExpired, h.record(t, id).Status)

		_, acquired, err := locker.TryAcquire(ctx, "expire_cancelled", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
		mr.FlushAll()
	})

	t.Run("skips while another replica holds the lock", func(t *testing.T) {
		h := newHarness(t)
		id := h.seedTenant(cancelling(testNow.Add(-time.Minute)))

		release, acquired, err := locker.TryAcquire(ctx, "expire_cancelled", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)
		defer func() { _ = release(ctx) }()

		handler := billing.NewSweepHandler(h.svc, locker, time.Minute, nil)
		require.NoError(t, handler.Handle(ctx, nil))
		assert.Equal(t, billing.StatusCancelling, h.record(t, id).Status)
	})

	t.Run("runs without a locker", func(t *testing.T) {
		h := newHarness(t)
		id := h.seedTenant(cancelling(testNow.Add(-time.Minute)))
		require.NoError(t, billing.NewSweepHandler(h.svc, nil, time.Minute, nil).Handle(ctx, nil))
		assert.Equal(t, billing.StatusExpired, h.record(t, id).Status)
	})
}
