package handler

import "net/http"

// HTTPError is an error with a status code, a stable machine readable code
// and a client facing message.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// WithMessage returns a copy of e carrying msg.
func (e HTTPError) WithMessage(msg string) HTTPError {
	e.Message = msg
	return e
}

// NewHTTPError creates an HTTPError.
func NewHTTPError(status int, code, message string) HTTPError {
	return HTTPError{Status: status, Code: code, Message: message}
}

var (
	ErrBadRequest          = HTTPError{Status: http.StatusBadRequest, Code: "bad_request", Message: "Bad request"}
	ErrUnauthorized        = HTTPError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Unauthorized"}
	ErrNotFound            = HTTPError{Status: http.StatusNotFound, Code: "not_found", Message: "Not found"}
	ErrConflict            = HTTPError{Status: http.StatusConflict, Code: "conflict", Message: "Conflict"}
	ErrUnsupportedMedia    = HTTPError{Status: http.StatusUnsupportedMediaType, Code: "unsupported_media_type", Message: "Expected application/json"}
	ErrInternalServerError = HTTPError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "An error occurred processing your request"}
)
