package paystack_test

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/paystack"
)

const disabled = `{"status":true,"message":"Subscription disabled successfully"}`

func TestClientRetry(t *testing.T) {
	t.Parallel()
	fast := paystack.WithRetry(2, paystack.FixedBackoff{Interval: time.Millisecond})

	t.Run("retries server errors until success", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":false,"message":"try again"}`))
				return
			}
			_, _ = w.Write([]byte(disabled))
		}, fast)

		require.NoError(t, c.DisableSubscription(context.Background(), "SUB_1", "tok"))
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":false,"message":"Duplicate Transaction Reference"}`))
		}, fast)

		err := c.DisableSubscription(context.Background(), "SUB_1", "tok")
		assert.ErrorIs(t, err, paystack.ErrProvider)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}, fast)

		err := c.DisableSubscription(context.Background(), "SUB_1", "tok")
		var apiErr *paystack.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("stops waiting when the context ends", func(t *testing.T) {
		t.Parallel()
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, paystack.WithRetry(5, paystack.FixedBackoff{Interval: time.Minute}))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := c.DisableSubscription(ctx, "SUB_1", "tok")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, err, paystack.ErrProvider)
	})
}

func TestClientCircuitBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var healthy atomic.Bool
	breaker := paystack.NewCircuitBreaker(2, 1, 50*time.Millisecond)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(disabled))
	}, paystack.WithCircuitBreaker(breaker))
	ctx := context.Background()

	for range 2 {
		assert.ErrorIs(t, c.DisableSubscription(ctx, "SUB_1", "tok"), paystack.ErrProvider)
	}
	assert.Equal(t, paystack.CircuitOpen, breaker.State())

	err := c.DisableSubscription(ctx, "SUB_1", "tok")
	assert.ErrorIs(t, err, paystack.ErrCircuitOpen)
	assert.ErrorIs(t, err, paystack.ErrProvider)
	assert.EqualValues(t, 2, calls.Load())

	healthy.Store(true)
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, c.DisableSubscription(ctx, "SUB_1", "tok"))
	assert.Equal(t, paystack.CircuitClosed, breaker.State())
	assert.EqualValues(t, 3, calls.Load())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := paystack.NewCircuitBreaker(1, 2, 20*time.Millisecond)
	cb.RecordFailure()
	assert.False(t, cb.Allow())

	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.Allow())
	assert.Equal(t, paystack.CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, paystack.CircuitHalfOpen, cb.State())
	cb.RecordFailure()
	assert.Equal(t, paystack.CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	exp := paystack.ExponentialBackoff{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}
	assert.Zero(t, exp.NextInterval(0))
	assert.Equal(t, 100*time.Millisecond, exp.NextInterval(1))
	assert.Equal(t, 400*time.Millisecond, exp.NextInterval(3))
	assert.Equal(t, time.Second, exp.NextInterval(10))

	jittered := paystack.ExponentialBackoff{InitialInterval: 100 * time.Millisecond, JitterFactor: 0.1}
	for range 20 {
		d := jittered.NextInterval(1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}

	assert.Equal(t, time.Second, paystack.FixedBackoff{Interval: time.Second}.NextInterval(4))
	assert.Equal(t, "half-open", paystack.CircuitHalfOpen.String())
}
