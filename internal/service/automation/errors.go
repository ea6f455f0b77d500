package automation

import "errors"

// Sentinel errors for the automation service layer.
var (
	ErrNotFound       = errors.New("automation not found")
	ErrInvalidTrigger = errors.New("unknown trigger type")
	ErrMissingCard    = errors.New("card id is required")
)
