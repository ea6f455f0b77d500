package plan

import "errors"

// Sentinel errors for the plan gate.
var (
	ErrLimitExceeded = errors.New("plan limit exceeded")
	ErrBusy          = errors.New("store is busy, try again")
)
