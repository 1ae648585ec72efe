package billing

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrymomot/billingkit/handler"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
	svc "github.com/dmitrymomot/billingkit/svc/billing"
)

// Error codes of the billing API.
const (
	CodeCurrency     = "CURR_ERR"
	CodePlan         = "PLAN_ERR"
	CodePrerequisite = "PRE_ERR"
	CodeSubscription = "SUB_ERR"
	CodeProvider     = "PROVIDER_ERR"
	CodeAuth         = "AUTH_ERR"
	CodePayload      = "PAYLOAD_ERR"
)

// httpError maps service errors onto the client contract. Unknown errors are
// returned unchanged and rendered as a generic 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, svc.ErrCurrencyNotSupported):
		return handler.NewHTTPError(http.StatusConflict, CodeCurrency, "Checkout is only available for NGN billing")
	case errors.Is(err, svc.ErrCurrencyMismatch):
		return handler.NewHTTPError(http.StatusConflict, CodeCurrency, "Plan is not available in the locked currency")
	case errors.Is(err, svc.ErrIntervalUnsupported):
		return handler.NewHTTPError(http.StatusBadRequest, CodePlan, svc.IntervalUnsupportedMessage)
	case errors.Is(err, svc.ErrInvalidRedirectURL):
		return handler.NewHTTPError(http.StatusBadRequest, CodePlan, "success_url and cancel_url must be absolute http(s) URLs")
	case errors.Is(err, svc.ErrPlanNotFound):
		return handler.NewHTTPError(http.StatusBadRequest, CodePlan, "Unknown plan")
	case errors.Is(err, svc.ErrPrerequisiteNotMet):
		return handler.NewHTTPError(http.StatusBadRequest, CodePrerequisite, prerequisiteMessage(err))
	case errors.Is(err, svc.ErrSubscriptionMissing):
		return handler.NewHTTPError(http.StatusBadRequest, CodeSubscription, "No active subscription found")
	case errors.Is(err, svc.ErrProvider):
		return handler.NewHTTPError(http.StatusInternalServerError, CodeProvider, "Payment provider request failed")
	case errors.Is(err, svc.ErrInvalidSignature):
		return handler.NewHTTPError(http.StatusUnauthorized, CodeAuth, "Invalid webhook signature")
	case errors.Is(err, svc.ErrMalformedPayload):
		return handler.NewHTTPError(http.StatusBadRequest, CodePayload, "Malformed webhook payload")
	case errors.Is(err, tenant.ErrMissingTenant), errors.Is(err, tenant.ErrInvalidTenant):
		return handler.ErrUnauthorized.WithMessage(err.Error())
	}
	return err
}

// prerequisiteMessage keeps the service detail, which never carries internals.
func prerequisiteMessage(err error) string {
	if detail, ok := strings.CutPrefix(err.Error(), svc.ErrPrerequisiteNotMet.Error()+": "); ok && detail != "" {
		return detail
	}
	return "Billing prerequisites not met"
}
