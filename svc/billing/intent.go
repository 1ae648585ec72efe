package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// ApplyIntent records the plan a tenant intends to buy. The record drops to
// PENDING with no entitlement until a verified payment activates it.
func (s *Service) ApplyIntent(ctx context.Context, tenantID uuid.UUID, plan, interval string) (*IntentResult, error) {
	var result *IntentResult
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		prev, err := tx.LockRecord(ctx, tenantID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return fmt.Errorf("%w: billing profile does not exist", ErrPrerequisiteNotMet)
			}
			return err
		}
		if prev.CurrencyLock == "" {
			return fmt.Errorf("%w: currency must be locked before choosing a plan", ErrPrerequisiteNotMet)
		}

		entry, err := s.catalogue.Resolve(plan, interval, prev.CurrencyLock)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		curr, err := tx.ApplyIntent(ctx, tenantID, IntentUpdate{
			PlanCode:       entry.Plan,
			Interval:       entry.Interval,
			QuotaMessages:  entry.QuotaMessages,
			Price:          entry.Price,
			ExternalPlanID: entry.ProviderPlanID,
			CycleStart:     now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		if err := s.enqueueAudit(ctx, tx, tenantID, "billing.plan_intent", prev, curr); err != nil {
			return err
		}

		result = &IntentResult{
			PlanCode:          entry.Plan,
			Interval:          entry.Interval,
			Currency:          entry.Currency,
			QuotaMessages:     entry.QuotaMessages,
			Price:             entry.Price,
			PriceDisplay:      FormatMinor(entry.Price),
			Status:            curr.Status,
			IsActive:          curr.IsActive,
			BillingCycleStart: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "plan intent recorded",
		logger.Component("billing"),
		logger.TenantID(tenantID),
		logger.Event("plan_intent"),
		logger.Plan(string(result.PlanCode)))
	return result, nil
}
