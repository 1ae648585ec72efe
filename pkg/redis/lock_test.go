package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/redis"
)

func newLocker(t *testing.T) (*redis.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewLocker(client, "test:"), mr
}

func TestLockerTryAcquire(t *testing.T) {
	t.Parallel()

	t.Run("acquires free lock", func(t *testing.T) {
		t.Parallel()
		locker, mr := newLocker(t)

		release, ok, err := locker.TryAcquire(context.Background(), "sweep", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, mr.Exists("test:sweep"))

		require.NoError(t, release(context.Background()))
		assert.False(t, mr.Exists("test:sweep"))
	})

	t.Run("held lock is not acquired twice", func(t *testing.T) {
		t.Parallel()
		locker, _ := newLocker(t)
		ctx := context.Background()

		release, ok, err := locker.TryAcquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer release(ctx) //nolint:errcheck

		second, ok, err := locker.TryAcquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, second)
	})

	t.Run("expired lease can be taken over", func(t *testing.T) {
		t.Parallel()
		locker, mr := newLocker(t)
		ctx := context.Background()

		stale, ok, err := locker.TryAcquire(ctx, "sweep", time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(2 * time.Second)

		_, ok, err = locker.TryAcquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, stale(ctx), redis.ErrLockNotHeld)
		assert.True(t, mr.Exists("test:sweep"))
	})
}
