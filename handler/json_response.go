package handler

import (
	"encoding/json"
	"net/http"
)

// JSONResponse is the envelope of every JSON body.
type JSONResponse struct {
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the error member of a JSON body.
type ErrorDetail struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures JSON response
type JSONOption func(*jsonResponse)

// WithJSONStatus sets custom HTTP status code
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// JSON renders {"data": v} with status 200.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: JSONResponse{Data: v}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err as {"error":{"error_code","message"}}. Errors that
// are not HTTPError are reported as a generic 500 without their text.
func JSONError(err error, opts ...JSONOption) Response {
	httpErr := asHTTPError(err)
	r := &jsonResponse{
		status: httpErr.Status,
		body: JSONResponse{Error: &ErrorDetail{
			Code:    httpErr.Code,
			Message: httpErr.Error(),
		}},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}
