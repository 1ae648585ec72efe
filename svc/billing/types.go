package billing

import (
	"time"

	"github.com/google/uuid"
)

// PlanCode identifies a catalogue plan.
type PlanCode string

const (
	PlanStarter PlanCode = "STARTER"
	PlanGrowth  PlanCode = "GROWTH"
	PlanPro     PlanCode = "PRO"
)

// Status is the lifecycle state of a tenant billing record.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPendingActivation Status = "PENDING_ACTIVATION"
	StatusActive            Status = "ACTIVE"
	StatusPastDue           Status = "PAST_DUE"
	StatusCancelling        Status = "CANCELLING"
	StatusExpired           Status = "EXPIRED"
)

// CurrencyNGN is the only currency the provider checkout path supports.
const CurrencyNGN = "NGN"

// IntervalMonthly is the only supported billing interval.
const IntervalMonthly = "monthly"

// Record is the billing state of one tenant. Price is in minor units.
type Record struct {
	TenantID               uuid.UUID
	PlanCode               PlanCode
	Status                 Status
	IsActive               bool
	CurrencyLock           string
	BillingInterval        string
	BillingCycleStart      *time.Time
	CycleResetAt           *time.Time
	QuotaMessages          int
	Price                  int64
	OverageCount           int
	ExternalSubscriptionID string
	ExternalPlanID         string
	ExternalCancelToken    string
	BillingEmail           string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (r *Record) snapshot() map[string]any {
	if r == nil {
		return nil
	}
	s := map[string]any{
		"plan_code":      string(r.PlanCode),
		"status":         string(r.Status),
		"is_active":      r.IsActive,
		"quota_messages": r.QuotaMessages,
		"price":          r.Price,
	}
	if r.CycleResetAt != nil {
		s["cycle_reset_at"] = r.CycleResetAt.UTC().Format(time.RFC3339)
	}
	return s
}

type (
	InvoiceStatus   string
	InvoiceCategory string
)

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"

	CategorySubscription InvoiceCategory = "SUBSCRIPTION"
	CategoryPhoneNumber  InvoiceCategory = "PHONE_NUMBER"
	CategoryOverage      InvoiceCategory = "OVERAGE"
)

// Invoice is a charge owed by a tenant. Amount is in minor units.
type Invoice struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Amount            int64
	Currency          string
	Status            InvoiceStatus
	Category          InvoiceCategory
	ExternalReference string
	Metadata          map[string]any
	CreatedAt         time.Time
	PaidAt            *time.Time
}

// IntentUpdate is written by ApplyIntent.
type IntentUpdate struct {
	PlanCode       PlanCode
	Interval       string
	QuotaMessages  int
	Price          int64
	ExternalPlanID string
	CycleStart     time.Time
	UpdatedAt      time.Time
}

// Activation is written when a payment is accepted. Empty subscription code
// or cancel token keep the stored values.
type Activation struct {
	PlanCode               PlanCode
	QuotaMessages          int
	Price                  int64
	ExternalPlanID         string
	ExternalSubscriptionID string
	ExternalCancelToken    string
	CycleStart             time.Time
	CycleResetAt           time.Time
}

// IntentResult is the plan snapshot returned to the caller of ApplyIntent.
type IntentResult struct {
	PlanCode          PlanCode  `json:"plan"`
	Interval          string    `json:"interval"`
	Currency          string    `json:"currency"`
	QuotaMessages     int       `json:"quota_messages"`
	Price             int64     `json:"price"`
	PriceDisplay      string    `json:"price_display"`
	Status            Status    `json:"status"`
	IsActive          bool      `json:"is_active"`
	BillingCycleStart time.Time `json:"billing_cycle_start"`
}

// Outcome is the acknowledgement status returned for a processed webhook.
type Outcome string

const (
	OutcomeInitialSuccess     Outcome = "initial_success"
	OutcomeRenewalSuccess     Outcome = "renewal_success"
	OutcomeSkipped            Outcome = "skipped"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeIgnoredNoReference Outcome = "ignored_no_reference"
	OutcomeAmountMismatch     Outcome = "amount_mismatch"
	OutcomeUnknownPlan        Outcome = "unknown_plan"
	OutcomeTenantNotFound     Outcome = "tenant_not_found"
	OutcomePendingActivation  Outcome = "pending_activation"
	OutcomePastDue            Outcome = "past_due"
	OutcomeSoftDeactivated    Outcome = "soft_deactivated"
	OutcomeExpired            Outcome = "expired"
)

// WebhookReceipt is stored for every authenticated webhook.
type WebhookReceipt struct {
	Event            string
	Reference        string
	SubscriptionCode string
	Outcome          Outcome
	ReceivedAt       time.Time
}

// CheckoutRequest starts or changes a subscription.
type CheckoutRequest struct {
	PlanID     string
	SuccessURL string
	CancelURL  string
}

// CancelMessage is returned after the provider accepted a cancellation.
const CancelMessage = "Cancellation request successful. Access remains active until the end of the period."
