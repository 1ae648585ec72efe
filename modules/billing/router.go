// Package billing mounts the tenant billing HTTP API.
package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/handler"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
	svc "github.com/dmitrymomot/billingkit/svc/billing"
)

// Service is what the routes need from the billing service.
type Service interface {
	ApplyIntent(ctx context.Context, tenantID uuid.UUID, plan, interval string) (*svc.IntentResult, error)
	InitiateCheckout(ctx context.Context, tenantID uuid.UUID, req svc.CheckoutRequest) (string, error)
	CancelSubscription(ctx context.Context, tenantID uuid.UUID) (string, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (svc.Outcome, error)
}

var _ Service = (*svc.Service)(nil)

// Router returns the billing routes. The webhook is authenticated by its
// signature; every other route requires the tenant headers.
//
//	r.Mount("/billing", billing.Router(service, log))
func Router(s Service, log *slog.Logger) chi.Router {
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{svc: s, log: log}
	onError := handler.NewErrorHandler(log)

	r := chi.NewRouter()
	r.Post("/webhook", handler.Wrap(h.webhook,
		handler.WithBinders[handler.Context, webhookRequest](bindWebhook),
		handler.WithErrorHandler[handler.Context, webhookRequest](onError),
	))

	r.Group(func(r chi.Router) {
		r.Use(tenant.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
			onError(handler.NewContext(w, r), httpError(err))
		}))

		r.Post("/plan-intent", handler.Wrap(h.planIntent,
			handler.WithBinders[handler.Context, planIntentRequest](handler.BindJSON()),
			handler.WithErrorHandler[handler.Context, planIntentRequest](onError),
		))
		r.Post("/subscription/checkout", handler.Wrap(h.checkout,
			handler.WithBinders[handler.Context, checkoutRequest](handler.BindJSON()),
			handler.WithErrorHandler[handler.Context, checkoutRequest](onError),
		))
		r.Post("/subscription/cancel", handler.Wrap(h.cancel,
			handler.WithErrorHandler[handler.Context, struct{}](onError),
		))
	})
	return r
}
