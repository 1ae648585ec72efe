package billing

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billingkit/handler"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/paystack"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
	svc "github.com/dmitrymomot/billingkit/svc/billing"
)

// maxWebhookBody bounds the raw webhook payload.
const maxWebhookBody = 1 << 20

type handlers struct {
	svc Service
	log *slog.Logger
}

type webhookRequest struct {
	Body      []byte
	Signature string
}

// bindWebhook keeps the body as raw bytes, the signature covers them exactly.
func bindWebhook(r *http.Request, v any) error {
	req, ok := v.(*webhookRequest)
	if !ok {
		return fmt.Errorf("bind webhook: unexpected target %T", v)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", handler.ErrInvalidJSON, err)
	}
	if len(body) > maxWebhookBody {
		return handler.NewHTTPError(http.StatusRequestEntityTooLarge, CodePayload, "Webhook payload too large")
	}
	req.Body = body
	req.Signature = r.Header.Get(paystack.SignatureHeader)
	return nil
}

func (h *handlers) webhook(ctx handler.Context, req webhookRequest) handler.Response {
	outcome, err := h.svc.HandleWebhook(ctx, req.Body, req.Signature)
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(map[string]string{"status": string(outcome)})
}

type planIntentRequest struct {
	Plan     string `json:"plan"`
	Interval string `json:"interval"`
}

func (h *handlers) planIntent(ctx handler.Context, req planIntentRequest) handler.Response {
	tenantID, ok := tenant.IDFromContext(ctx)
	if !ok {
		return h.fail(ctx, tenant.ErrMissingTenant)
	}
	if req.Interval == "" {
		req.Interval = svc.IntervalMonthly
	}
	res, err := h.svc.ApplyIntent(ctx, tenantID, req.Plan, req.Interval)
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(res)
}

type checkoutRequest struct {
	PlanID     string `json:"plan_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
}

func (h *handlers) checkout(ctx handler.Context, req checkoutRequest) handler.Response {
	tenantID, ok := tenant.IDFromContext(ctx)
	if !ok {
		return h.fail(ctx, tenant.ErrMissingTenant)
	}
	url, err := h.svc.InitiateCheckout(ctx, tenantID, svc.CheckoutRequest{
		PlanID:     req.PlanID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(checkoutResponse{CheckoutURL: url})
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *handlers) cancel(ctx handler.Context, _ struct{}) handler.Response {
	tenantID, ok := tenant.IDFromContext(ctx)
	if !ok {
		return h.fail(ctx, tenant.ErrMissingTenant)
	}
	msg, err := h.svc.CancelSubscription(ctx, tenantID)
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(messageResponse{Message: msg})
}

// fail logs err with the request and renders its client mapping.
func (h *handlers) fail(ctx handler.Context, err error) handler.Response {
	mapped := httpError(err)
	level := slog.LevelError
	var httpErr handler.HTTPError
	if errors.As(mapped, &httpErr) && httpErr.Status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	h.log.LogAttrs(ctx, level, "billing request failed",
		logger.Component("billing_api"),
		logger.RequestID(requestid.FromContext(ctx)),
		slog.String("path", ctx.Request().URL.Path),
		logger.Error(err),
	)
	return handler.JSONError(mapped)
}
