package logger

import (
	"log/slog"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// TenantID records the tenant identifier under the key "tenant_id".
// If id is nil, it returns an empty Attr.
func TenantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("tenant_id", id)
}

// InvoiceID records the invoice identifier under the key "invoice_id".
func InvoiceID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("invoice_id", id)
}

// SubscriptionCode records the provider subscription code.
func SubscriptionCode(code string) slog.Attr {
	return slog.String("subscription_code", code)
}

// Reference records a provider transaction reference.
func Reference(ref string) slog.Attr {
	return slog.String("reference", ref)
}

// EventType records the provider event name under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Amounts groups expected and received minor-unit amounts.
func Amounts(expected, received int64) slog.Attr {
	return slog.Group("amount", slog.Int64("expected", expected), slog.Int64("received", received))
}

// StatusCode records an upstream or response HTTP status.
func StatusCode(code int) slog.Attr {
	return slog.Int("status_code", code)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Plan records a plan code under the key "plan".
func Plan(code string) slog.Attr {
	return slog.String("plan", code)
}

// Outcome records a processing outcome under the key "outcome".
func Outcome(outcome string) slog.Attr {
	return slog.String("outcome", outcome)
}
