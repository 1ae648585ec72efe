package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/paystack"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Name     string `env:"APP_NAME" envDefault:"billingd"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type settings struct {
	App      appConfig
	PG       pg.Config
	Redis    redis.Config
	HTTP     httpserver.Config
	Queue    queue.Config
	Paystack paystack.Config
	Email    email.Config
	Billing  billing.Config
}

func loadSettings() (*settings, error) {
	if envFile != "" {
		if err := config.LoadEnv(envFile); err != nil {
			return nil, err
		}
	}

	var s settings
	loaders := []func() error{
		func() error { return config.Load(&s.App) },
		func() error { return config.Load(&s.PG) },
		func() error { return config.Load(&s.Redis) },
		func() error { return config.Load(&s.HTTP) },
		func() error { return config.Load(&s.Queue) },
		func() error { return config.Load(&s.Paystack) },
		func() error { return config.Load(&s.Email) },
		func() error { return config.Load(&s.Billing) },
	}
	for _, load := range loaders {
		if err := load(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	return &s, nil
}

func newLogger(cfg appConfig) *slog.Logger {
	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.Name),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor(), tenant.LoggerExtractor()),
	)
	logger.SetAsDefault(log)
	return log
}

// connectPG opens the pool and applies migrations when requested.
func connectPG(ctx context.Context, cfg pg.Config, migrate bool, log *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := runMigrations(ctx, pool, cfg, log); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}
