package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/paystack"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

const testSecret = "sk_test_webhook_secret"

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu sync.Mutex

	initRequests []paystack.InitializeTransactionRequest
	updates      [][2]string
	disables     [][2]string

	initErr    error
	updateErr  error
	disableErr error
	update     *paystack.SubscriptionUpdate
}

func (p *fakeProvider) InitializeTransaction(_ context.Context, req paystack.InitializeTransactionRequest) (*paystack.Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initRequests = append(p.initRequests, req)
	if p.initErr != nil {
		return nil, p.initErr
	}
	return &paystack.Authorization{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		AccessCode:       "acc_" + req.Reference[:8],
		Reference:        req.Reference,
	}, nil
}

func (p *fakeProvider) UpdateSubscription(_ context.Context, code, plan string) (*paystack.SubscriptionUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, [2]string{code, plan})
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	return p.update, nil
}

func (p *fakeProvider) DisableSubscription(_ context.Context, code, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disables = append(p.disables, [2]string{code, token})
	return p.disableErr
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.initRequests) + len(p.updates) + len(p.disables)
}

var errInjected = errors.New("injected store failure")

// faultyStore passes through to a MemoryStore and fails selected writes on demand.
type faultyStore struct {
	*billing.MemoryStore
	failOutbox   atomic.Bool
	failActivate atomic.Bool

	mu               sync.Mutex
	receiptDeadlines []time.Time
}

func (s *faultyStore) RecordWebhook(ctx context.Context, r billing.WebhookReceipt) error {
	deadline, _ := ctx.Deadline()
	s.mu.Lock()
	s.receiptDeadlines = append(s.receiptDeadlines, deadline)
	s.mu.Unlock()
	return s.MemoryStore.RecordWebhook(ctx, r)
}

func (s *faultyStore) WithinTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	return s.MemoryStore.WithinTx(ctx, func(tx billing.Tx) error {
		return fn(&faultyTx{Tx: tx, store: s})
	})
}

type faultyTx struct {
	billing.Tx
	store *faultyStore
}

func (t *faultyTx) Activate(ctx context.Context, tenantID uuid.UUID, a billing.Activation) (*billing.Record, error) {
	if t.store.failActivate.Load() {
		return nil, errInjected
	}
	return t.Tx.Activate(ctx, tenantID, a)
}

func (t *faultyTx) Outbox() queue.EnqueuerRepository {
	if t.store.failOutbox.Load() {
		return failingOutbox{}
	}
	return t.Tx.Outbox()
}

type failingOutbox struct{}

func (failingOutbox) CreateTask(context.Context, *queue.Task) error { return errInjected }

type harness struct {
	svc      *billing.Service
	store    *billing.MemoryStore
	faults   *faultyStore
	tasks    *queue.MemoryStorage
	provider *fakeProvider
	registry *prometheus.Registry
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tasks := queue.NewMemoryStorage()
	store := billing.NewMemoryStore(tasks)
	provider := &fakeProvider{}
	verifier, err := webhook.NewVerifier(testSecret)
	require.NoError(t, err)
	registry := prometheus.NewRegistry()

	faults := &faultyStore{MemoryStore: store}
	h := &harness{store: store, faults: faults, tasks: tasks, provider: provider, registry: registry, now: testNow}
	svc, err := billing.NewService(billing.DefaultCatalogue(), faults, provider, verifier,
		billing.WithMetrics(billing.NewMetrics(registry)),
		billing.WithClock(func() time.Time { return h.now }),
	)
	require.NoError(t, err)
	h.svc = svc
	return h
}

// seedTenant stores an NGN locked tenant and returns its id.
func (h *harness) seedTenant(mutate ...func(*billing.Record)) uuid.UUID {
	rec := billing.Record{
		TenantID:        uuid.New(),
		Status:          billing.StatusPending,
		CurrencyLock:    billing.CurrencyNGN,
		BillingInterval: billing.IntervalMonthly,
		BillingEmail:    "owner@example.com",
		CreatedAt:       testNow.Add(-24 * time.Hour),
		UpdatedAt:       testNow.Add(-24 * time.Hour),
	}
	for _, fn := range mutate {
		fn(&rec)
	}
	h.store.PutRecord(rec)
	return rec.TenantID
}

func (h *harness) record(t *testing.T, tenantID uuid.UUID) *billing.Record {
	t.Helper()
	rec, err := h.store.GetRecord(context.Background(), tenantID)
	require.NoError(t, err)
	return rec
}

func (h *harness) pendingInvoice(tenantID uuid.UUID, amount int64, category billing.InvoiceCategory) uuid.UUID {
	inv := billing.Invoice{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Amount:    amount,
		Currency:  billing.CurrencyNGN,
		Status:    billing.InvoicePending,
		Category:  category,
		CreatedAt: testNow.Add(-time.Hour),
	}
	h.store.PutInvoice(inv)
	return inv.ID
}

// deliver signs body and hands it to the service.
func (h *harness) deliver(t *testing.T, body []byte) (billing.Outcome, error) {
	t.Helper()
	return h.svc.HandleWebhook(context.Background(), body, webhook.Sign(testSecret, body))
}

func (h *harness) tasksNamed(name string) []queue.Task {
	var out []queue.Task
	for _, task := range h.tasks.Tasks() {
		if task.TaskName == name {
			out = append(out, task)
		}
	}
	return out
}

func (h *harness) auditEntries(t *testing.T) []audit.Entry {
	t.Helper()
	var out []audit.Entry
	for _, task := range h.tasksNamed(queue.TaskName[audit.Entry]()) {
		var e audit.Entry
		require.NoError(t, json.Unmarshal(task.Payload, &e))
		out = append(out, e)
	}
	return out
}

func (h *harness) notifications(t *testing.T) []billing.NotificationTask {
	t.Helper()
	var out []billing.NotificationTask
	for _, task := range h.tasksNamed(queue.TaskName[billing.NotificationTask]()) {
		var n billing.NotificationTask
		require.NoError(t, json.Unmarshal(task.Payload, &n))
		out = append(out, n)
	}
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func signFor(body []byte) string {
	return webhook.Sign(testSecret, body)
}
