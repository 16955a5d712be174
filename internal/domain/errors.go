package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrAuthRequired     = errors.New("login required")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
)
