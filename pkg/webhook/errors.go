package webhook

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrMissingSignature     = errors.New("webhook signature is missing")
	ErrInvalidSignature     = errors.New("webhook signature mismatch")
)
