package paystack_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/paystack"
)

func newClient(t *testing.T, h http.HandlerFunc, opts ...paystack.Option) *paystack.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append([]paystack.Option{paystack.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	c, err := paystack.NewClient(paystack.Config{SecretKey: "sk_test_123", BaseURL: srv.URL, Timeout: 2 * time.Second}, opts...)
	require.NoError(t, err)
	return c
}

func TestInitializeTransaction(t *testing.T) {
	t.Parallel()

	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref"}}`))
	})

	auth, err := c.InitializeTransaction(context.Background(), paystack.InitializeTransactionRequest{
		Email:     "owner@example.com",
		Plan:      "PLN_8hp9tz0uyzjxvp7",
		Amount:    25000,
		Reference: "11111111-1111-1111-1111-111111111111",
		Metadata: paystack.TransactionMetadata{
			TenantID:         "t-1",
			PlanID:           "GROWTH",
			UnpaidInvoiceIDs: []string{"a", "b"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", auth.AuthorizationURL)
	assert.EqualValues(t, 25000, got["amount"])
	assert.Equal(t, "PLN_8hp9tz0uyzjxvp7", got["plan"])
	meta := got["metadata"].(map[string]any)
	assert.Equal(t, "GROWTH", meta["plan_id"])
	assert.Len(t, meta["unpaid_invoice_ids"], 2)
}

func TestProviderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "message with error list", status: 400, body: `{"status":false,"message":"Invalid key","errors":["email required","amount invalid"]}`, message: "Invalid key (email required, amount invalid)"},
		{name: "message with error object", status: 422, body: `{"status":false,"message":"Validation","errors":{"plan":"not found","amount":"too low"}}`, message: "Validation (amount: too low, plan: not found)"},
		{name: "errors only", status: 400, body: `{"errors":["boom"]}`, message: "boom"},
		{name: "plain text", status: 502, body: `bad gateway`, message: "bad gateway"},
		{name: "status false with 200", status: 200, body: `{"status":false,"message":"Duplicate reference"}`, message: "Duplicate reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := c.DisableSubscription(context.Background(), "SUB_1", "tok")
			require.Error(t, err)
			assert.ErrorIs(t, err, paystack.ErrProvider)

			var apiErr *paystack.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestUpdateSubscriptionFollowUp(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SUB_1", body["code"])
		assert.Equal(t, "PLN_uo1i43zue58y532", body["plan"])
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"link":"https://paystack.com/manage/xyz"}}`))
	})

	upd, err := c.UpdateSubscription(context.Background(), "SUB_1", "PLN_uo1i43zue58y532")
	require.NoError(t, err)
	assert.Equal(t, "https://paystack.com/manage/xyz", upd.FollowUpURL())

	var empty *paystack.SubscriptionUpdate
	assert.Empty(t, empty.FollowUpURL())
}

func TestObserverAndTimeout(t *testing.T) {
	t.Parallel()

	var ops []string
	var statuses []int
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":null}`))
	}, paystack.WithObserver(func(op string, status int, _ time.Duration) {
		ops = append(ops, op)
		statuses = append(statuses, status)
	}))

	require.NoError(t, c.DisableSubscription(context.Background(), "SUB_1", "tok"))
	assert.Equal(t, []string{"subscription.disable"}, ops)
	assert.Equal(t, []int{200}, statuses)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.DisableSubscription(ctx, "SUB_1", "tok")
	assert.ErrorIs(t, err, paystack.ErrProvider)
}

func TestNewClientRequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := paystack.NewClient(paystack.Config{})
	assert.ErrorIs(t, err, paystack.ErrInvalidConfig)
}
