package audit

import "errors"

var (
	ErrInvalidEntry = errors.New("invalid audit entry")
	ErrStorageNil   = errors.New("audit storage cannot be nil")
)
