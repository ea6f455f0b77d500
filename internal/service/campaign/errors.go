package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound        = errors.New("campaign not found")
	ErrNoMembers       = errors.New("campaign requires at least one member")
	ErrMembersNotFound = errors.New("one or more members not found")
	ErrAlreadySent     = errors.New("campaign was already sent")
	ErrInvalidDiscount = errors.New("invalid discount type or value")
	ErrDuplicateCode   = errors.New("generated code already exists")
	ErrCodeNotFound    = errors.New("discount code not found")
	ErrAlreadyRedeemed = errors.New("discount code already redeemed")
)
