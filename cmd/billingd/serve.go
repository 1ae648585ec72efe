package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	modbilling "github.com/dmitrymomot/billingkit/modules/billing"
	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, queue worker and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		log := newLogger(s.App)

		a, err := newApp(cmd.Context(), s, log, s.PG.AutoMigrate)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.serve(cmd.Context())
	},
}

func (a *app) serve(ctx context.Context) error {
	s := a.settings

	sender, err := email.New(s.Email, a.log)
	if err != nil {
		return err
	}

	tasks := queue.NewPGStorage(a.pool)

	worker, err := queue.NewWorker(tasks,
		queue.WithQueues(s.Billing.Queue),
		queue.WithPullInterval(s.Queue.PollInterval),
		queue.WithLockTimeout(s.Queue.LockTimeout),
		queue.WithMaxConcurrentTasks(s.Queue.MaxConcurrentTasks),
		queue.WithWorkerLogger(a.log),
	)
	if err != nil {
		return err
	}
	worker.RegisterHandlers(
		audit.NewTaskHandler(audit.NewPGStorage(a.pool)),
		billing.NewNotificationHandler(sender),
		billing.NewSweepHandler(a.billing, a.locker, s.Billing.SweepLockTTL, a.log),
	)

	scheduler, err := queue.NewScheduler(tasks,
		queue.WithCheckInterval(s.Queue.SchedulerInterval),
		queue.WithSchedulerLogger(a.log),
	)
	if err != nil {
		return err
	}
	if err := scheduler.AddTask(billing.SweepTaskName,
		queue.EveryInterval(s.Billing.SweepInterval),
		queue.WithTaskQueue(s.Billing.Queue),
	); err != nil {
		return err
	}

	server := httpserver.New(s.HTTP, a.router(), a.log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Run(ctx))
	g.Go(worker.Run(ctx))
	g.Go(scheduler.Run(ctx))
	return g.Wait()
}

func (a *app) router() http.Handler {
	checks := []func(context.Context) error{pg.Healthcheck(a.pool)}
	if a.redis != nil {
		checks = append(checks, redis.Healthcheck(a.redis))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestid.Middleware)

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(a.log, checks...))
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Mount("/billing", modbilling.Router(a.billing, a.log))
	return r
}
