package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// Store is the billing persistence boundary. All mutations run through WithinTx.
type Store interface {
	GetRecord(ctx context.Context, tenantID uuid.UUID) (*Record, error)
	// PendingInvoiceIDs lists PENDING invoices of the tenant outside the excluded category.
	PendingInvoiceIDs(ctx context.Context, tenantID uuid.UUID, exclude InvoiceCategory) ([]uuid.UUID, error)
	RecordWebhook(ctx context.Context, receipt WebhookReceipt) error
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a unit of work. Tasks enqueued through Outbox commit with it.
type Tx interface {
	// LockRecord returns the record and locks it for the rest of the transaction.
	LockRecord(ctx context.Context, tenantID uuid.UUID) (*Record, error)
	LockRecordBySubscription(ctx context.Context, code string) (*Record, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// CreateInvoiceOnce inserts inv unless an invoice with the same external reference exists.
	CreateInvoiceOnce(ctx context.Context, inv *Invoice) (bool, error)
	// MarkInvoicePaid moves a PENDING invoice of tenantID to PAID and reports whether it did.
	MarkInvoicePaid(ctx context.Context, tenantID, id uuid.UUID, paidAt time.Time) (bool, error)

	ApplyIntent(ctx context.Context, tenantID uuid.UUID, upd IntentUpdate) (*Record, error)
	Activate(ctx context.Context, tenantID uuid.UUID, act Activation) (*Record, error)
	// SetStatus changes status, and is_active when isActive is non-nil.
	SetStatus(ctx context.Context, tenantID uuid.UUID, status Status, isActive *bool, at time.Time) (*Record, error)
	// MarkPendingActivation stores provider ids that are non-empty.
	MarkPendingActivation(ctx context.Context, tenantID uuid.UUID, subscriptionCode, emailToken string, at time.Time) (*Record, error)
	// ExpireCancelled expires CANCELLING records whose cycle ended at or before now.
	ExpireCancelled(ctx context.Context, now time.Time) ([]*Record, error)

	// Savepoint runs fn in a nested transaction. Its failure does not abort the outer one.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error
	Outbox() queue.EnqueuerRepository
}
