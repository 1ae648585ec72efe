package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/paystack"
)

// HandleWebhook authenticates the raw body against signature, decodes it and
// applies the event. Business rejections are logged and acknowledged with an
// Outcome. Only authentication, decoding and persistence failures return errors.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := s.verifier.Verify(body, signature); err != nil {
		s.metrics.signatureFailure()
		s.logger.WarnContext(ctx, "webhook signature rejected",
			logger.Component("webhook"), logger.Error(err))
		return "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	ev, err := paystack.ParseEvent(body)
	if err != nil {
		s.logger.WarnContext(ctx, "webhook payload rejected",
			logger.Component("webhook"), logger.Error(err))
		return "", fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.webhookTimeout)
	defer cancel()

	log := s.logger.With(logger.Component("webhook"), logger.EventType(ev.Name))
	outcome, err := s.dispatch(ctx, log, ev)
	if err != nil {
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		return "", err
	}

	s.metrics.webhookOutcome(ev.Type.String(), outcome)
	log.InfoContext(ctx, "webhook processed", logger.Outcome(string(outcome)))

	receipt := WebhookReceipt{
		Event:            ev.Name,
		Reference:        ev.Data.TransactionReference(),
		SubscriptionCode: ev.Data.SubscriptionCodeValue(),
		Outcome:          outcome,
		ReceivedAt:       s.now().UTC(),
	}
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), receiptTimeout)
	defer rcancel()
	if err := s.store.RecordWebhook(rctx, receipt); err != nil {
		log.WarnContext(ctx, "webhook receipt not stored", logger.Error(err))
	}
	return outcome, nil
}

// receiptTimeout bounds the receipt insert, which runs after the event is committed.
const receiptTimeout = 3 * time.Second

func (s *Service) dispatch(ctx context.Context, log *slog.Logger, ev *paystack.Event) (Outcome, error) {
	inactive := false
	switch ev.Type {
	case paystack.EventSubscriptionCreate:
		return s.onSubscriptionCreate(ctx, log, ev)
	case paystack.EventChargeSuccess, paystack.EventInvoicePaymentSucceeded:
		return s.onPaymentSucceeded(ctx, log, ev)
	case paystack.EventInvoicePaymentFailed:
		return s.onStatusEvent(ctx, log, ev, StatusPastDue, &inactive, NotifyPastDue, OutcomePastDue)
	case paystack.EventSubscriptionDisable:
		return s.onStatusEvent(ctx, log, ev, StatusCancelling, nil, NotifyCancelling, OutcomeSoftDeactivated)
	case paystack.EventSubscriptionNotRenewed:
		return s.onStatusEvent(ctx, log, ev, StatusExpired, &inactive, NotifyExpired, OutcomeExpired)
	default:
		log.DebugContext(ctx, "webhook event ignored")
		return OutcomeIgnored, nil
	}
}

var providerActor = audit.WithActor(audit.ActorProvider, "paystack")

// onStatusEvent moves the subscription's record to status whatever its current state.
func (s *Service) onStatusEvent(ctx context.Context, log *slog.Logger, ev *paystack.Event, status Status, isActive *bool, kind NotificationKind, done Outcome) (Outcome, error) {
	code := ev.Data.SubscriptionCodeValue()
	if code == "" {
		log.WarnContext(ctx, "webhook has no subscription code")
		return OutcomeIgnoredNoReference, nil
	}
	log = log.With(logger.SubscriptionCode(code))

	outcome := done
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		prev, err := tx.LockRecordBySubscription(ctx, code)
		if errors.Is(err, ErrRecordNotFound) {
			outcome = OutcomeTenantNotFound
			return nil
		}
		if err != nil {
			return err
		}

		curr, err := tx.SetStatus(ctx, prev.TenantID, status, isActive, s.now().UTC())
		if err != nil {
			return err
		}
		if err := s.enqueueAudit(ctx, tx, curr.TenantID, "billing."+string(done), prev, curr,
			providerActor, audit.WithMetadata("event", ev.Name)); err != nil {
			return err
		}
		return s.notify(ctx, tx, kind, curr)
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeTenantNotFound {
		log.WarnContext(ctx, "no billing record for subscription")
	}
	return outcome, nil
}

func (s *Service) onSubscriptionCreate(ctx context.Context, log *slog.Logger, ev *paystack.Event) (Outcome, error) {
	code := ev.Data.SubscriptionCodeValue()
	token := ev.Data.EmailTokenValue()
	tenantID, tenantErr := uuid.Parse(ev.Data.TenantID())
	if tenantErr != nil && code == "" {
		log.WarnContext(ctx, "subscription.create without tenant metadata or subscription code")
		return OutcomeIgnoredNoReference, nil
	}

	outcome := OutcomePendingActivation
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var prev *Record
		var err error
		if tenantErr == nil {
			prev, err = tx.LockRecord(ctx, tenantID)
		} else {
			prev, err = tx.LockRecordBySubscription(ctx, code)
		}
		if errors.Is(err, ErrRecordNotFound) {
			outcome = OutcomeTenantNotFound
			return nil
		}
		if err != nil {
			return err
		}

		curr, err := tx.MarkPendingActivation(ctx, prev.TenantID, code, token, s.now().UTC())
		if err != nil {
			return err
		}
		return s.enqueueAudit(ctx, tx, curr.TenantID, "billing.pending_activation", prev, curr,
			providerActor, audit.WithMetadata("subscription_code", code))
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeTenantNotFound {
		log.WarnContext(ctx, "no billing record for subscription.create", logger.SubscriptionCode(code))
	}
	return outcome, nil
}

// onPaymentSucceeded activates the tenant that paid a checkout invoice, or
// reconciles a renewal charge that references no local invoice.
func (s *Service) onPaymentSucceeded(ctx context.Context, log *slog.Logger, ev *paystack.Event) (Outcome, error) {
	ref := ev.Data.TransactionReference()
	code := ev.Data.SubscriptionCodeValue()
	renewable := ev.Type == paystack.EventInvoicePaymentSucceeded && code != ""
	if ref == "" && !renewable {
		log.WarnContext(ctx, "payment event without reference")
		return OutcomeIgnoredNoReference, nil
	}
	log = log.With(logger.Reference(ref))

	var outcome Outcome
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var inv *Invoice
		if id, err := uuid.Parse(ref); err == nil {
			inv, err = tx.GetInvoice(ctx, id)
			if err != nil && !errors.Is(err, ErrInvoiceNotFound) {
				return err
			}
		}

		var err error
		switch {
		case inv != nil:
			outcome, err = s.payInvoice(ctx, log, tx, ev, inv)
		case renewable:
			outcome, err = s.renew(ctx, log, tx, ev, code)
		default:
			log.InfoContext(ctx, "no pending invoice for reference")
			outcome = OutcomeSkipped
		}
		return err
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *Service) payInvoice(ctx context.Context, log *slog.Logger, tx Tx, ev *paystack.Event, inv *Invoice) (Outcome, error) {
	log = log.With(logger.TenantID(inv.TenantID), logger.InvoiceID(inv.ID))
	if inv.Status != InvoicePending {
		log.InfoContext(ctx, "invoice already settled", slog.String("invoice_status", string(inv.Status)))
		return OutcomeSkipped, nil
	}

	received := ev.Data.AmountMinor()
	if received < inv.Amount {
		log.ErrorContext(ctx, "payment amount below invoice amount", logger.Amounts(inv.Amount, received))
		return OutcomeAmountMismatch, nil
	}

	prev, err := tx.LockRecord(ctx, inv.TenantID)
	if errors.Is(err, ErrRecordNotFound) {
		log.ErrorContext(ctx, "paid invoice has no billing record")
		return OutcomeTenantNotFound, nil
	}
	if err != nil {
		return "", err
	}

	entry, ok := s.activationPlan(ctx, log, ev, prev)
	if !ok {
		return OutcomeUnknownPlan, nil
	}

	now := s.now().UTC()
	paid, err := tx.MarkInvoicePaid(ctx, inv.TenantID, inv.ID, now)
	if err != nil {
		return "", err
	}
	if !paid {
		log.InfoContext(ctx, "invoice settled concurrently")
		return OutcomeSkipped, nil
	}

	for _, raw := range ev.Data.Metadata.UnpaidInvoiceIDs {
		s.settleBundled(ctx, log, tx, inv.TenantID, raw, now)
	}

	curr, err := tx.Activate(ctx, inv.TenantID, s.activation(ev, entry, now))
	if err != nil {
		return "", err
	}
	if err := s.enqueueAudit(ctx, tx, inv.TenantID, "billing.activated", prev, curr,
		providerActor,
		audit.WithMetadata("invoice_id", inv.ID.String()),
		audit.WithMetadata("event", ev.Name)); err != nil {
		return "", err
	}
	if prev.Status != StatusActive {
		if err := s.notify(ctx, tx, NotifyActivated, curr); err != nil {
			return "", err
		}
	}
	return OutcomeInitialSuccess, nil
}

// settleBundled marks one extra invoice paid inside a savepoint. Failures are logged only.
func (s *Service) settleBundled(ctx context.Context, log *slog.Logger, tx Tx, tenantID uuid.UUID, raw string, now time.Time) {
	id, err := uuid.Parse(raw)
	if err != nil {
		log.WarnContext(ctx, "bundled invoice id is not a UUID", slog.String("bundled_invoice_id", raw))
		return
	}
	err = tx.Savepoint(ctx, func(sp Tx) error {
		paid, err := sp.MarkInvoicePaid(ctx, tenantID, id, now)
		if err != nil {
			return err
		}
		if !paid {
			log.InfoContext(ctx, "bundled invoice not pending", slog.String("bundled_invoice_id", raw))
		}
		return nil
	})
	if err != nil {
		log.WarnContext(ctx, "bundled invoice not settled", slog.String("bundled_invoice_id", raw), logger.Error(err))
	}
}

func (s *Service) renew(ctx context.Context, log *slog.Logger, tx Tx, ev *paystack.Event, code string) (Outcome, error) {
	log = log.With(logger.SubscriptionCode(code))

	prev, err := tx.LockRecordBySubscription(ctx, code)
	if errors.Is(err, ErrRecordNotFound) {
		log.WarnContext(ctx, "renewal for unknown subscription")
		return OutcomeTenantNotFound, nil
	}
	if err != nil {
		return "", err
	}
	log = log.With(logger.TenantID(prev.TenantID))

	entry, ok := s.activationPlan(ctx, log, ev, prev)
	if !ok {
		return OutcomeUnknownPlan, nil
	}

	received := ev.Data.AmountMinor()
	if received < entry.Price {
		log.ErrorContext(ctx, "renewal amount below plan price", logger.Amounts(entry.Price, received))
		return OutcomeAmountMismatch, nil
	}

	key := ev.Data.InvoiceCode
	if key == "" {
		key = ev.Data.TransactionReference()
	}
	if key == "" {
		log.WarnContext(ctx, "renewal without invoice code or reference")
		return OutcomeIgnoredNoReference, nil
	}

	now := s.now().UTC()
	inv := &Invoice{
		ID:                uuid.New(),
		TenantID:          prev.TenantID,
		Amount:            received,
		Currency:          entry.Currency,
		Status:            InvoicePaid,
		Category:          CategorySubscription,
		ExternalReference: key,
		Metadata:          map[string]any{"plan_id": string(entry.Plan), "subscription_code": code},
		CreatedAt:         now,
		PaidAt:            &now,
	}
	created, err := tx.CreateInvoiceOnce(ctx, inv)
	if err != nil {
		return "", err
	}
	if !created {
		log.InfoContext(ctx, "renewal already recorded", slog.String("external_reference", key))
		return OutcomeSkipped, nil
	}

	if entry.Plan != prev.PlanCode {
		log.InfoContext(ctx, "plan reconciled from renewal",
			slog.String("previous_plan", string(prev.PlanCode)),
			logger.Plan(string(entry.Plan)))
	}

	curr, err := tx.Activate(ctx, prev.TenantID, s.activation(ev, entry, now))
	if err != nil {
		return "", err
	}
	if err := s.enqueueAudit(ctx, tx, prev.TenantID, "billing.renewed", prev, curr,
		providerActor,
		audit.WithMetadata("invoice_id", inv.ID.String()),
		audit.WithMetadata("external_reference", key)); err != nil {
		return "", err
	}
	if prev.Status != StatusActive {
		if err := s.notify(ctx, tx, NotifyActivated, curr); err != nil {
			return "", err
		}
	}
	return OutcomeRenewalSuccess, nil
}

// activationPlan picks the plan to activate: the provider plan from the
// payload when present, otherwise the plan already on the record.
func (s *Service) activationPlan(ctx context.Context, log *slog.Logger, ev *paystack.Event, rec *Record) (CatalogueEntry, bool) {
	plan := rec.PlanCode
	if providerID := ev.Data.ProviderPlanID(); providerID != "" {
		code, ok := s.catalogue.PlanByProviderID(providerID)
		if !ok {
			log.ErrorContext(ctx, "unknown provider plan id", slog.String("provider_plan_id", providerID))
			return CatalogueEntry{}, false
		}
		plan = code
	}
	if plan == "" {
		log.ErrorContext(ctx, "payment has no plan to activate")
		return CatalogueEntry{}, false
	}

	currency := rec.CurrencyLock
	if currency == "" {
		currency = CurrencyNGN
	}
	entry, err := s.catalogue.Resolve(string(plan), IntervalMonthly, currency)
	if err != nil {
		log.ErrorContext(ctx, "plan cannot be activated", logger.Plan(string(plan)), logger.Error(err))
		return CatalogueEntry{}, false
	}
	return entry, true
}

func (s *Service) activation(ev *paystack.Event, entry CatalogueEntry, now time.Time) Activation {
	reset, ok := ev.Data.NextPaymentAt()
	if !ok {
		reset = now.Add(s.cycleLength)
	}
	return Activation{
		PlanCode:               entry.Plan,
		QuotaMessages:          entry.QuotaMessages,
		Price:                  entry.Price,
		ExternalPlanID:         entry.ProviderPlanID,
		ExternalSubscriptionID: ev.Data.SubscriptionCodeValue(),
		ExternalCancelToken:    ev.Data.EmailTokenValue(),
		CycleStart:             now,
		CycleResetAt:           reset,
	}
}
