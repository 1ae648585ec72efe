package tenant

import "errors"

var (
	ErrMissingTenant = errors.New("tenant header is missing")
	ErrInvalidTenant = errors.New("tenant header is not a valid UUID")
)
