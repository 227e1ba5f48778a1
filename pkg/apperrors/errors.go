package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrTableNotFound    = errors.New("table not found")
	ErrFieldNotFound    = errors.New("field not found")
	ErrInvalidReference = errors.New("invalid document reference")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPoolClosed       = errors.New("worker pool closed")
	ErrLeaseHeld        = errors.New("build lease held by another process")
)
