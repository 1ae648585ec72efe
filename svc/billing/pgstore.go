package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/queue"
)

const recordColumns = `tenant_id, COALESCE(plan_code, ''), status, is_active, COALESCE(currency_lock, ''),
	COALESCE(billing_interval, ''), billing_cycle_start, cycle_reset_at, quota_messages, price, overage_count,
	COALESCE(external_subscription_id, ''), COALESCE(external_plan_id, ''), COALESCE(external_cancel_token, ''),
	COALESCE(billing_email, ''), created_at, updated_at`

const invoiceColumns = `id, tenant_id, amount, currency, status, category, COALESCE(external_reference, ''),
	metadata, created_at, paid_at`

const (
	sqlGetRecord = `SELECT ` + recordColumns + ` FROM tenant_billing WHERE tenant_id = $1`

	sqlLockRecord = sqlGetRecord + ` FOR UPDATE`

	sqlLockRecordBySubscription = `SELECT ` + recordColumns + `
FROM tenant_billing WHERE external_subscription_id = $1 FOR UPDATE`

	sqlPendingInvoiceIDs = `
SELECT id FROM invoices
WHERE tenant_id = $1 AND status = 'PENDING' AND category <> $2
ORDER BY created_at`

	sqlGetInvoice = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	sqlCreateInvoice = `
INSERT INTO invoices (id, tenant_id, amount, currency, status, category, external_reference, metadata, created_at, paid_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`

	sqlCreateInvoiceOnce = sqlCreateInvoice + ` ON CONFLICT (external_reference) DO NOTHING`

	sqlMarkInvoicePaid = `
UPDATE invoices SET status = 'PAID', paid_at = $3
WHERE id = $1 AND tenant_id = $2 AND status = 'PENDING'`

	sqlApplyIntent = `
UPDATE tenant_billing SET
	plan_code = $2,
	billing_interval = $3,
	quota_messages = $4,
	price = $5,
	external_plan_id = $6,
	billing_cycle_start = $7,
	cycle_reset_at = NULL,
	is_active = false,
	status = 'PENDING',
	updated_at = $8
WHERE tenant_id = $1
RETURNING ` + recordColumns

	sqlActivate = `
UPDATE tenant_billing SET
	is_active = true,
	status = 'ACTIVE',
	plan_code = $2,
	quota_messages = $3,
	price = $4,
	external_plan_id = $5,
	external_subscription_id = COALESCE(NULLIF($6, ''), external_subscription_id),
	external_cancel_token = COALESCE(NULLIF($7, ''), external_cancel_token),
	billing_cycle_start = $8,
	cycle_reset_at = $9,
	updated_at = $8
WHERE tenant_id = $1
RETURNING ` + recordColumns

	sqlSetStatus = `
UPDATE tenant_billing SET
	status = $2,
	is_active = COALESCE($3, is_active),
	updated_at = $4
WHERE tenant_id = $1
RETURNING ` + recordColumns

	sqlMarkPendingActivation = `
UPDATE tenant_billing SET
	status = 'PENDING_ACTIVATION',
	external_subscription_id = COALESCE(NULLIF($2, ''), external_subscription_id),
	external_cancel_token = COALESCE(NULLIF($3, ''), external_cancel_token),
	updated_at = $4
WHERE tenant_id = $1
RETURNING ` + recordColumns

	sqlExpireCancelled = `
UPDATE tenant_billing SET is_active = false, status = 'EXPIRED', updated_at = $1
WHERE status = 'CANCELLING' AND is_active AND cycle_reset_at <= $1
RETURNING ` + recordColumns

	sqlRecordWebhook = `
INSERT INTO billing_webhook_events (id, event, reference, subscription_code, outcome, received_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)`
)

// PoolDB is satisfied by *pgxpool.Pool.
type PoolDB interface {
	pg.DBTX
	pg.TxStarter
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	db PoolDB
}

// NewPGStore creates a PostgreSQL billing store.
func NewPGStore(db PoolDB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetRecord(ctx context.Context, tenantID uuid.UUID) (*Record, error) {
	return queryRecord(ctx, s.db, sqlGetRecord, tenantID)
}

func (s *PGStore) PendingInvoiceIDs(ctx context.Context, tenantID uuid.UUID, exclude InvoiceCategory) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, sqlPendingInvoiceIDs, tenantID, string(exclude))
	if err != nil {
		return nil, fmt.Errorf("query pending invoices: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan pending invoices: %w", err)
	}
	return ids, nil
}

func (s *PGStore) RecordWebhook(ctx context.Context, r WebhookReceipt) error {
	_, err := s.db.Exec(ctx, sqlRecordWebhook, uuid.New(), r.Event, r.Reference, r.SubscriptionCode, string(r.Outcome), r.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert webhook receipt: %w", err)
	}
	return nil
}

func (s *PGStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockRecord(ctx context.Context, tenantID uuid.UUID) (*Record, error) {
	return queryRecord(ctx, t.tx, sqlLockRecord, tenantID)
}

func (t *pgTx) LockRecordBySubscription(ctx context.Context, code string) (*Record, error) {
	return queryRecord(ctx, t.tx, sqlLockRecordBySubscription, code)
}

func (t *pgTx) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv Invoice
	var metadata []byte
	err := t.tx.QueryRow(ctx, sqlGetInvoice, id).Scan(
		&inv.ID, &inv.TenantID, &inv.Amount, &inv.Currency, &inv.Status, &inv.Category,
		&inv.ExternalReference, &metadata, &inv.CreatedAt, &inv.PaidAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inv.Metadata); err != nil {
			return nil, fmt.Errorf("decode invoice metadata: %w", err)
		}
	}
	return &inv, nil
}

func (t *pgTx) CreateInvoice(ctx context.Context, inv *Invoice) error {
	_, err := t.insertInvoice(ctx, sqlCreateInvoice, inv)
	return err
}

func (t *pgTx) CreateInvoiceOnce(ctx context.Context, inv *Invoice) (bool, error) {
	return t.insertInvoice(ctx, sqlCreateInvoiceOnce, inv)
}

func (t *pgTx) insertInvoice(ctx context.Context, query string, inv *Invoice) (bool, error) {
	metadata := inv.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("encode invoice metadata: %w", err)
	}
	tag, err := t.tx.Exec(ctx, query,
		inv.ID, inv.TenantID, inv.Amount, inv.Currency, string(inv.Status), string(inv.Category),
		inv.ExternalReference, raw, inv.CreatedAt, inv.PaidAt)
	if err != nil {
		return false, fmt.Errorf("insert invoice: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) MarkInvoicePaid(ctx context.Context, tenantID, id uuid.UUID, paidAt time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, sqlMarkInvoicePaid, id, tenantID, paidAt)
	if err != nil {
		return false, fmt.Errorf("mark invoice paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ApplyIntent(ctx context.Context, tenantID uuid.UUID, u IntentUpdate) (*Record, error) {
	return queryRecord(ctx, t.tx, sqlApplyIntent, tenantID, string(u.PlanCode), u.Interval,
		u.QuotaMessages, u.Price, u.ExternalPlanID, u.CycleStart, u.UpdatedAt)
}

func (t *pgTx) Activate(ctx context.Context, tenantID uuid.UUID, a Activation) (*Record, error) {
	return queryRecord(ctx, t.tx, sqlActivate, tenantID, string(a.PlanCode), a.QuotaMessages, a.Price,
		a.ExternalPlanID, a.ExternalSubscriptionID, a.ExternalCancelToken, a.CycleStart, a.CycleResetAt)
}

func (t *pgTx) SetStatus(ctx context.Context, tenantID uuid.UUID, status Status, isActive *bool, at time.Time) (*Record, error) {
	return queryRecord(ctx, t.tx, sqlSetStatus, tenantID, string(status), isActive, at)
}

func (t *pgTx) MarkPendingActivation(ctx context.Context, tenantID uuid.UUID, code, token string, at time.Time) (*Record, error) {
	return queryRecord(ctx, t.tx, sqlMarkPendingActivation, tenantID, code, token, at)
}

func (t *pgTx) ExpireCancelled(ctx context.Context, now time.Time) ([]*Record, error) {
	rows, err := t.tx.Query(ctx, sqlExpireCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("expire cancelled records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *pgTx) Savepoint(ctx context.Context, fn func(tx Tx) error) error {
	return pg.WithTx(ctx, t.tx, func(sp pgx.Tx) error {
		return fn(&pgTx{tx: sp})
	})
}

func (t *pgTx) Outbox() queue.EnqueuerRepository {
	return queue.NewPGStorage(t.tx)
}

func queryRecord(ctx context.Context, db pg.DBTX, query string, args ...any) (*Record, error) {
	rec, err := scanRecord(db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("query billing record: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	if err := row.Scan(
		&r.TenantID, &r.PlanCode, &r.Status, &r.IsActive, &r.CurrencyLock,
		&r.BillingInterval, &r.BillingCycleStart, &r.CycleResetAt, &r.QuotaMessages, &r.Price, &r.OverageCount,
		&r.ExternalSubscriptionID, &r.ExternalPlanID, &r.ExternalCancelToken,
		&r.BillingEmail, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
