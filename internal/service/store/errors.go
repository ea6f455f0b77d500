package store

import "errors"

// Sentinel errors for the store service layer.
var (
	ErrNotFound       = errors.New("store not found")
	ErrInvalidDomain  = errors.New("shop domain must be a .myshopify.com address")
	ErrInvalidToken   = errors.New("shopify rejected the access token")
	ErrMissingScopes  = errors.New("token is missing required access scopes")
	ErrNotOwner       = errors.New("store belongs to another user")
	ErrDisconnected   = errors.New("store is disconnected")
	ErrDomainMismatch = errors.New("token belongs to a different shop")
)
