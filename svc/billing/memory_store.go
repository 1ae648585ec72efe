package billing

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// MemoryStore implements Store in memory with serialized transactions.
// Committed outbox tasks are written to the queue repository given to NewMemoryStore.
type MemoryStore struct {
	mu       sync.Mutex
	state    memState
	tasks    queue.EnqueuerRepository
	receipts []WebhookReceipt
}

type memState struct {
	records  map[uuid.UUID]Record
	invoices map[uuid.UUID]Invoice
}

func (s memState) clone() memState {
	return memState{records: maps.Clone(s.records), invoices: maps.Clone(s.invoices)}
}

// NewMemoryStore creates an empty store. tasks may be nil when the outbox is not needed.
func NewMemoryStore(tasks queue.EnqueuerRepository) *MemoryStore {
	return &MemoryStore{
		state: memState{records: map[uuid.UUID]Record{}, invoices: map[uuid.UUID]Invoice{}},
		tasks: tasks,
	}
}

// PutRecord inserts or replaces a record.
func (s *MemoryStore) PutRecord(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.records[r.TenantID] = r
}

// PutInvoice inserts or replaces an invoice.
func (s *MemoryStore) PutInvoice(inv Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.invoices[inv.ID] = inv
}

// Invoice returns a stored invoice.
func (s *MemoryStore) Invoice(id uuid.UUID) (Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.state.invoices[id]
	return inv, ok
}

// Invoices returns all invoices of a tenant ordered by creation time.
func (s *MemoryStore) Invoices(tenantID uuid.UUID) []Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Invoice
	for _, inv := range s.state.invoices {
		if inv.TenantID == tenantID {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b Invoice) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Receipts returns recorded webhook receipts.
func (s *MemoryStore) Receipts() []WebhookReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.receipts)
}

func (s *MemoryStore) GetRecord(_ context.Context, tenantID uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.records[tenantID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &r, nil
}

func (s *MemoryStore) PendingInvoiceIDs(_ context.Context, tenantID uuid.UUID, exclude InvoiceCategory) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []Invoice
	for _, inv := range s.state.invoices {
		if inv.TenantID == tenantID && inv.Status == InvoicePending && inv.Category != exclude {
			pending = append(pending, inv)
		}
	}
	slices.SortFunc(pending, func(a, b Invoice) int { return a.CreatedAt.Compare(b.CreatedAt) })
	ids := make([]uuid.UUID, 0, len(pending))
	for _, inv := range pending {
		ids = append(ids, inv.ID)
	}
	return ids, nil
}

func (s *MemoryStore) RecordWebhook(_ context.Context, r WebhookReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if s.tasks != nil {
		for _, task := range tx.outbox.tasks {
			if err := s.tasks.CreateTask(ctx, task); err != nil {
				return err
			}
		}
	}
	s.state = tx.state
	return nil
}

type memOutbox struct {
	tasks []*queue.Task
}

func (o *memOutbox) CreateTask(_ context.Context, task *queue.Task) error {
	cp := *task
	o.tasks = append(o.tasks, &cp)
	return nil
}

type memTx struct {
	state  memState
	outbox memOutbox
}

func (t *memTx) LockRecord(_ context.Context, tenantID uuid.UUID) (*Record, error) {
	r, ok := t.state.records[tenantID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &r, nil
}

func (t *memTx) LockRecordBySubscription(_ context.Context, code string) (*Record, error) {
	if code == "" {
		return nil, ErrRecordNotFound
	}
	for _, r := range t.state.records {
		if r.ExternalSubscriptionID == code {
			return &r, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (t *memTx) GetInvoice(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return &inv, nil
}

func (t *memTx) CreateInvoice(_ context.Context, inv *Invoice) error {
	t.state.invoices[inv.ID] = *inv
	return nil
}

func (t *memTx) CreateInvoiceOnce(_ context.Context, inv *Invoice) (bool, error) {
	if inv.ExternalReference != "" {
		for _, existing := range t.state.invoices {
			if existing.ExternalReference == inv.ExternalReference {
				return false, nil
			}
		}
	}
	t.state.invoices[inv.ID] = *inv
	return true, nil
}

func (t *memTx) MarkInvoicePaid(_ context.Context, tenantID, id uuid.UUID, paidAt time.Time) (bool, error) {
	inv, ok := t.state.invoices[id]
	if !ok || inv.TenantID != tenantID || inv.Status != InvoicePending {
		return false, nil
	}
	inv.Status = InvoicePaid
	inv.PaidAt = &paidAt
	t.state.invoices[id] = inv
	return true, nil
}

func (t *memTx) update(tenantID uuid.UUID, at time.Time, fn func(r *Record)) (*Record, error) {
	r, ok := t.state.records[tenantID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	fn(&r)
	r.UpdatedAt = at
	t.state.records[tenantID] = r
	return &r, nil
}

func (t *memTx) ApplyIntent(_ context.Context, tenantID uuid.UUID, u IntentUpdate) (*Record, error) {
	return t.update(tenantID, u.UpdatedAt, func(r *Record) {
		start := u.CycleStart
		r.PlanCode = u.PlanCode
		r.BillingInterval = u.Interval
		r.QuotaMessages = u.QuotaMessages
		r.Price = u.Price
		r.ExternalPlanID = u.ExternalPlanID
		r.BillingCycleStart = &start
		r.CycleResetAt = nil
		r.IsActive = false
		r.Status = StatusPending
	})
}

func (t *memTx) Activate(_ context.Context, tenantID uuid.UUID, a Activation) (*Record, error) {
	return t.update(tenantID, a.CycleStart, func(r *Record) {
		start, reset := a.CycleStart, a.CycleResetAt
		r.IsActive = true
		r.Status = StatusActive
		r.PlanCode = a.PlanCode
		r.QuotaMessages = a.QuotaMessages
		r.Price = a.Price
		r.ExternalPlanID = a.ExternalPlanID
		if a.ExternalSubscriptionID != "" {
			r.ExternalSubscriptionID = a.ExternalSubscriptionID
		}
		if a.ExternalCancelToken != "" {
			r.ExternalCancelToken = a.ExternalCancelToken
		}
		r.BillingCycleStart = &start
		r.CycleResetAt = &reset
	})
}

func (t *memTx) SetStatus(_ context.Context, tenantID uuid.UUID, status Status, isActive *bool, at time.Time) (*Record, error) {
	return t.update(tenantID, at, func(r *Record) {
		r.Status = status
		if isActive != nil {
			r.IsActive = *isActive
		}
	})
}

func (t *memTx) MarkPendingActivation(_ context.Context, tenantID uuid.UUID, code, token string, at time.Time) (*Record, error) {
	return t.update(tenantID, at, func(r *Record) {
		r.Status = StatusPendingActivation
		if code != "" {
			r.ExternalSubscriptionID = code
		}
		if token != "" {
			r.ExternalCancelToken = token
		}
	})
}

func (t *memTx) ExpireCancelled(_ context.Context, now time.Time) ([]*Record, error) {
	var out []*Record
	for id, r := range t.state.records {
		if r.Status != StatusCancelling || !r.IsActive || r.CycleResetAt == nil || r.CycleResetAt.After(now) {
			continue
		}
		r.IsActive = false
		r.Status = StatusExpired
		r.UpdatedAt = now
		t.state.records[id] = r
		cp := r
		out = append(out, &cp)
	}
	return out, nil
}

func (t *memTx) Savepoint(_ context.Context, fn func(tx Tx) error) error {
	nested := &memTx{state: t.state.clone(), outbox: memOutbox{tasks: slices.Clone(t.outbox.tasks)}}
	if err := fn(nested); err != nil {
		return err
	}
	t.state = nested.state
	t.outbox = nested.outbox
	return nil
}

func (t *memTx) Outbox() queue.EnqueuerRepository {
	return &t.outbox
}
