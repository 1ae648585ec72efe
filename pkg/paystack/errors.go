package paystack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

var (
	ErrProvider        = errors.New("payment provider request failed")
	ErrInvalidConfig   = errors.New("invalid paystack configuration")
	ErrInvalidResponse = errors.New("unexpected paystack response")
	ErrInvalidEnvelope = errors.New("invalid webhook envelope")
	ErrCircuitOpen     = errors.New("paystack circuit breaker is open")
)

// APIError describes a non-2xx or status=false answer from the API.
// It matches ErrProvider with errors.Is.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return ErrProvider }

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

const maxLoggedBody = 2048

func newAPIError(op string, status int, body []byte) *APIError {
	logged := string(body)
	if len(logged) > maxLoggedBody {
		logged = logged[:maxLoggedBody]
	}
	return &APIError{
		Operation:  op,
		StatusCode: status,
		Message:    extractErrorMessage(body),
		Body:       logged,
	}
}

// extractErrorMessage joins the top level message with the errors field,
// which Paystack sends either as a list or as a field keyed object.
func extractErrorMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 200 {
			return s
		}
		return "unreadable provider response"
	}

	detail := ""
	var list []any
	var obj map[string]any
	switch {
	case len(payload.Errors) == 0:
	case json.Unmarshal(payload.Errors, &list) == nil && len(list) > 0:
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, fmt.Sprint(item))
		}
		detail = strings.Join(parts, ", ")
	case json.Unmarshal(payload.Errors, &obj) == nil && len(obj) > 0:
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, obj[k]))
		}
		detail = strings.Join(parts, ", ")
	}

	switch {
	case payload.Message != "" && detail != "":
		return fmt.Sprintf("%s (%s)", payload.Message, detail)
	case payload.Message != "":
		return payload.Message
	case detail != "":
		return detail
	}
	return "unknown provider error"
}
