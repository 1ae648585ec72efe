package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/paystack"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

// app holds the long lived dependencies shared by the commands.
type app struct {
	settings *settings
	log      *slog.Logger
	pool     *pgxpool.Pool
	redis    *goredis.Client
	locker   billing.Locker
	registry *prometheus.Registry
	billing  *billing.Service
}

func newApp(ctx context.Context, s *settings, log *slog.Logger, migrate bool) (*app, error) {
	a := &app{settings: s, log: log}

	pool, err := connectPG(ctx, s.PG, migrate, log)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	if s.Redis.Enabled() {
		client, err := redis.Connect(ctx, s.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.locker = redis.NewLocker(client, s.App.Name+":")
	} else {
		log.WarnContext(ctx, "redis disabled, sweeps are not coordinated across replicas")
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := billing.NewMetrics(a.registry)

	catalogue, err := billing.LoadCatalogue(s.Billing.CataloguePath)
	if err != nil {
		a.Close()
		return nil, err
	}

	provider, err := paystack.NewClient(s.Paystack,
		paystack.WithLogger(log),
		paystack.WithObserver(metrics.ObserveProvider),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("paystack client: %w", err)
	}

	verifier, err := webhook.NewVerifier(s.Paystack.SecretKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("webhook verifier: %w", err)
	}

	recorder := audit.NewRecorder(
		audit.WithRequestIDExtractor(requestid.Extract),
		audit.WithActorExtractor(tenant.AuditActor),
	)

	a.billing, err = billing.NewService(catalogue, billing.NewPGStore(pool), provider, verifier,
		billing.WithLogger(log),
		billing.WithMetrics(metrics),
		billing.WithRecorder(recorder),
		billing.WithConfig(s.Billing),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("close redis", slog.Any("error", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
