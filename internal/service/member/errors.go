package member

import "errors"

// Sentinel errors for the member service layer.
var (
	ErrNotFound     = errors.New("member not found")
	ErrDuplicate    = errors.New("member email already exists in this store")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrEmptyImport  = errors.New("import file contains no valid rows")
)
