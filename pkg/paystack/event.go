package paystack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// EventType is the closed set of webhook events the billing core reacts to.
type EventType int

const (
	EventUnknown EventType = iota
	EventSubscriptionCreate
	EventChargeSuccess
	EventInvoicePaymentSucceeded
	EventInvoicePaymentFailed
	EventSubscriptionDisable
	EventSubscriptionNotRenewed
)

var eventNames = map[string]EventType{
	"subscription.create":       EventSubscriptionCreate,
	"charge.success":            EventChargeSuccess,
	"invoice.payment_succeeded": EventInvoicePaymentSucceeded,
	"invoice.payment_failed":    EventInvoicePaymentFailed,
	"subscription.disable":      EventSubscriptionDisable,
	"subscription.not_renewed":  EventSubscriptionNotRenewed,
}

// ParseEventType maps a wire event name to EventType. Unlisted names are EventUnknown.
func ParseEventType(name string) EventType {
	return eventNames[strings.TrimSpace(name)]
}

func (e EventType) String() string {
	for name, t := range eventNames {
		if t == e {
			return name
		}
	}
	return "unknown"
}

// Event is a decoded webhook envelope. Name keeps the raw event string.
type Event struct {
	Type EventType
	Name string
	Data EventData
}

// ParseEvent decodes a webhook body. The signature must be verified first.
func ParseEvent(body []byte) (*Event, error) {
	var raw struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if raw.Event == "" {
		return nil, fmt.Errorf("%w: event is missing", ErrInvalidEnvelope)
	}

	ev := &Event{Type: ParseEventType(raw.Event), Name: raw.Event}
	if len(raw.Data) > 0 && !bytes.Equal(raw.Data, []byte("null")) {
		if err := json.Unmarshal(raw.Data, &ev.Data); err != nil {
			if ev.Type == EventUnknown {
				return ev, nil
			}
			return nil, fmt.Errorf("%w: data: %w", ErrInvalidEnvelope, err)
		}
	}
	return ev, nil
}

// EventData is the union of fields consumed from the webhook events handled here.
type EventData struct {
	Reference        string        `json:"reference"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	InvoiceCode      string        `json:"invoice_code"`
	SubscriptionCode string        `json:"subscription_code"`
	EmailToken       string        `json:"email_token"`
	NextPaymentDate  string        `json:"next_payment_date"`
	Metadata         Metadata      `json:"metadata"`
	Plan             PlanRef       `json:"plan"`
	Subscription     *Subscription `json:"subscription"`
	Transaction      *Transaction  `json:"transaction"`
	Customer         *Customer     `json:"customer"`
}

// Subscription is the nested subscription object of charge and invoice events.
type Subscription struct {
	SubscriptionCode string  `json:"subscription_code"`
	EmailToken       string  `json:"email_token"`
	NextPaymentDate  string  `json:"next_payment_date"`
	Plan             PlanRef `json:"plan"`
}

// Transaction is the nested charge of invoice events.
type Transaction struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Customer is the paying customer.
type Customer struct {
	Email        string   `json:"email"`
	CustomerCode string   `json:"customer_code"`
	Metadata     Metadata `json:"metadata"`
}

// PlanRef accepts both a plan object and a bare plan code string.
type PlanRef struct {
	PlanCode string `json:"plan_code"`
}

func (p *PlanRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '"':
		return json.Unmarshal(b, &p.PlanCode)
	case b[0] == '{':
		var obj struct {
			PlanCode string `json:"plan_code"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		p.PlanCode = obj.PlanCode
		return nil
	}
	return nil
}

// Metadata is what checkout put on the transaction. Paystack echoes it
// back as an object, a JSON encoded string, or an empty string.
type Metadata struct {
	TenantID         string   `json:"tenant_id"`
	PlanID           string   `json:"plan_id"`
	UnpaidInvoiceIDs []string `json:"unpaid_invoice_ids"`
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || s[0] != '{' {
			return nil
		}
		b = []byte(s)
	}
	if b[0] != '{' {
		return nil
	}

	type plain Metadata
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = Metadata(out)
	return nil
}

// TransactionReference is the charge reference, top level or nested.
func (d EventData) TransactionReference() string {
	if d.Reference != "" {
		return d.Reference
	}
	if d.Transaction != nil {
		return d.Transaction.Reference
	}
	return ""
}

// AmountMinor is the charged amount in minor units, top level or nested.
func (d EventData) AmountMinor() int64 {
	if d.Amount != 0 {
		return d.Amount
	}
	if d.Transaction != nil {
		return d.Transaction.Amount
	}
	return 0
}

// SubscriptionCodeValue returns the subscription code, top level or nested.
func (d EventData) SubscriptionCodeValue() string {
	if d.SubscriptionCode != "" {
		return d.SubscriptionCode
	}
	if d.Subscription != nil {
		return d.Subscription.SubscriptionCode
	}
	return ""
}

// EmailTokenValue returns the subscription management token, top level or nested.
func (d EventData) EmailTokenValue() string {
	if d.EmailToken != "" {
		return d.EmailToken
	}
	if d.Subscription != nil {
		return d.Subscription.EmailToken
	}
	return ""
}

// ProviderPlanID resolves the plan code: subscription.plan first, then plan.
func (d EventData) ProviderPlanID() string {
	if d.Subscription != nil && d.Subscription.Plan.PlanCode != "" {
		return d.Subscription.Plan.PlanCode
	}
	return d.Plan.PlanCode
}

// TenantID looks in transaction metadata, then customer metadata.
func (d EventData) TenantID() string {
	if d.Metadata.TenantID != "" {
		return d.Metadata.TenantID
	}
	if d.Customer != nil {
		return d.Customer.Metadata.TenantID
	}
	return ""
}

// NextPaymentAt parses next_payment_date (RFC3339), top level or nested.
func (d EventData) NextPaymentAt() (time.Time, bool) {
	raw := d.NextPaymentDate
	if raw == "" && d.Subscription != nil {
		raw = d.Subscription.NextPaymentDate
	}
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
