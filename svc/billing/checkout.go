package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/paystack"
)

// InitiateCheckout returns the URL the merchant should be sent to. Tenants
// with a subscription are moved to the new plan in place. Everyone else gets
// a PENDING invoice and a hosted checkout whose reference is the invoice id.
func (s *Service) InitiateCheckout(ctx context.Context, tenantID uuid.UUID, req CheckoutRequest) (string, error) {
	if err := validateRedirect("success_url", req.SuccessURL); err != nil {
		return "", err
	}
	if err := validateRedirect("cancel_url", req.CancelURL); err != nil {
		return "", err
	}

	rec, err := s.store.GetRecord(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return "", fmt.Errorf("%w: billing profile does not exist", ErrPrerequisiteNotMet)
		}
		return "", err
	}
	if !strings.EqualFold(rec.CurrencyLock, CurrencyNGN) {
		return "", ErrCurrencyNotSupported
	}

	plan := req.PlanID
	if strings.TrimSpace(plan) == "" {
		plan = string(rec.PlanCode)
	}
	entry, err := s.catalogue.Resolve(plan, IntervalMonthly, CurrencyNGN)
	if err != nil {
		return "", err
	}

	log := s.logger.With(logger.Component("billing"), logger.TenantID(tenantID), logger.Plan(string(entry.Plan)))

	if rec.ExternalSubscriptionID != "" {
		upd, err := s.provider.UpdateSubscription(ctx, rec.ExternalSubscriptionID, entry.ProviderPlanID)
		if err != nil {
			log.ErrorContext(ctx, "subscription update failed",
				logger.SubscriptionCode(rec.ExternalSubscriptionID), logger.Error(err))
			return "", errors.Join(ErrProvider, err)
		}
		log.InfoContext(ctx, "subscription plan change requested", logger.SubscriptionCode(rec.ExternalSubscriptionID))
		if url := upd.FollowUpURL(); url != "" {
			return url, nil
		}
		return req.SuccessURL, nil
	}

	if rec.BillingEmail == "" {
		return "", fmt.Errorf("%w: billing email is required for checkout", ErrPrerequisiteNotMet)
	}

	unpaid, err := s.store.PendingInvoiceIDs(ctx, tenantID, CategorySubscription)
	if err != nil {
		return "", fmt.Errorf("list unpaid invoices: %w", err)
	}

	now := s.now().UTC()
	inv := &Invoice{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Amount:    entry.Price,
		Currency:  CurrencyNGN,
		Status:    InvoicePending,
		Category:  CategorySubscription,
		Metadata:  map[string]any{"plan_id": string(entry.Plan)},
		CreatedAt: now,
	}
	if err := s.store.WithinTx(ctx, func(tx Tx) error {
		return tx.CreateInvoice(ctx, inv)
	}); err != nil {
		return "", fmt.Errorf("create checkout invoice: %w", err)
	}

	unpaidIDs := make([]string, 0, len(unpaid))
	for _, id := range unpaid {
		unpaidIDs = append(unpaidIDs, id.String())
	}

	auth, err := s.provider.InitializeTransaction(ctx, paystack.InitializeTransactionRequest{
		Email:       rec.BillingEmail,
		Plan:        entry.ProviderPlanID,
		Amount:      entry.Price,
		Currency:    CurrencyNGN,
		Reference:   inv.ID.String(),
		CallbackURL: req.SuccessURL,
		Metadata: paystack.TransactionMetadata{
			TenantID:         tenantID.String(),
			PlanID:           string(entry.Plan),
			UnpaidInvoiceIDs: unpaidIDs,
			CancelAction:     req.CancelURL,
		},
	})
	if err != nil {
		log.ErrorContext(ctx, "checkout initialization failed", logger.InvoiceID(inv.ID), logger.Error(err))
		return "", errors.Join(ErrProvider, err)
	}

	log.InfoContext(ctx, "checkout initialized",
		logger.InvoiceID(inv.ID),
		slog.Int64("amount", inv.Amount),
		slog.Int("unpaid_invoices", len(unpaidIDs)))
	return auth.AuthorizationURL, nil
}

// CancelSubscription asks the provider to stop renewing. Access is kept until
// the provider confirms with subscription.disable and the sweeper later expires it.
func (s *Service) CancelSubscription(ctx context.Context, tenantID uuid.UUID) (string, error) {
	rec, err := s.store.GetRecord(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return "", ErrSubscriptionMissing
		}
		return "", err
	}
	if rec.ExternalSubscriptionID == "" || rec.ExternalCancelToken == "" {
		return "", ErrSubscriptionMissing
	}

	if err := s.provider.DisableSubscription(ctx, rec.ExternalSubscriptionID, rec.ExternalCancelToken); err != nil {
		s.logger.ErrorContext(ctx, "subscription cancellation failed",
			logger.Component("billing"),
			logger.TenantID(tenantID),
			logger.SubscriptionCode(rec.ExternalSubscriptionID),
			logger.Error(err))
		return "", errors.Join(ErrProvider, err)
	}

	s.logger.InfoContext(ctx, "subscription cancellation requested",
		logger.Component("billing"),
		logger.TenantID(tenantID),
		logger.SubscriptionCode(rec.ExternalSubscriptionID))
	return CancelMessage, nil
}

// validateRedirect accepts only absolute http(s) URLs with a host.
func validateRedirect(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRedirectURL, field)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %s", ErrInvalidRedirectURL, field)
	}
	return nil
}
