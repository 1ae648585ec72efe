package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// SweepTaskName is the periodic queue task that expires cancelled subscriptions.
const SweepTaskName = "billing.expire_cancelled"

const sweepLockKey = "expire_cancelled"

// Locker grants a short exclusive lease. *redis.Locker implements it.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// ExpireCancelled ends every CANCELLING subscription whose paid period is over.
// It is idempotent: a second run in the same instant expires nothing.
func (s *Service) ExpireCancelled(ctx context.Context) (int, error) {
	now := s.now().UTC()
	var expired []*Record

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		recs, err := tx.ExpireCancelled(ctx, now)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			prev := *rec
			prev.Status = StatusCancelling
			prev.IsActive = true
			if err := s.enqueueAudit(ctx, tx, rec.TenantID, "billing.expired", &prev, rec); err != nil {
				return err
			}
			if err := s.notify(ctx, tx, NotifyExpired, rec); err != nil {
				return err
			}
		}
		expired = recs
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("expire cancelled subscriptions: %w", err)
	}

	s.metrics.expired(len(expired))
	for _, rec := range expired {
		s.logger.InfoContext(ctx, "subscription expired",
			logger.Component("sweeper"),
			logger.TenantID(rec.TenantID))
	}
	return len(expired), nil
}

// NewSweepHandler returns the periodic task handler running ExpireCancelled.
// With a non-nil locker only one replica sweeps at a time.
func NewSweepHandler(svc *Service, locker Locker, lockTTL time.Duration, log *slog.Logger) queue.Handler {
	if log == nil {
		log = slog.Default()
	}
	return queue.NewPeriodicTaskHandler(SweepTaskName, func(ctx context.Context) error {
		if locker != nil {
			release, acquired, err := locker.TryAcquire(ctx, sweepLockKey, lockTTL)
			if err != nil {
				return fmt.Errorf("acquire sweep lock: %w", err)
			}
			if !acquired {
				log.DebugContext(ctx, "sweep skipped, another replica holds the lock", logger.Component("sweeper"))
				return nil
			}
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					log.WarnContext(ctx, "release sweep lock", logger.Component("sweeper"), logger.Error(err))
				}
			}()
		}

		n, err := svc.ExpireCancelled(ctx)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "sweep finished", logger.Component("sweeper"), slog.Int("expired", n))
		return nil
	})
}
