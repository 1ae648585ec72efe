package billing

import "errors"

// IntervalUnsupportedMessage is the client facing text for ErrIntervalUnsupported.
const IntervalUnsupportedMessage = "Only 'monthly' interval is supported"

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrIntervalUnsupported  = errors.New("only 'monthly' interval is supported")
	ErrCurrencyMismatch     = errors.New("plan is not priced in the locked currency")
	ErrPrerequisiteNotMet   = errors.New("billing prerequisites not met")
	ErrCurrencyNotSupported = errors.New("checkout requires the NGN currency lock")
	ErrSubscriptionMissing  = errors.New("no active subscription to cancel")
	ErrProvider             = errors.New("payment provider error")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrMalformedPayload     = errors.New("malformed webhook payload")
	ErrInvalidCatalogue     = errors.New("invalid plan catalogue")
	ErrInvalidRedirectURL   = errors.New("redirect url must be an absolute http(s) url")

	ErrRecordNotFound  = errors.New("billing record not found")
	ErrInvoiceNotFound = errors.New("invoice not found")
)
