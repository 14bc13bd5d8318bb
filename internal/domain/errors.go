package domain

import "errors"

// Sentinel errors shared across the pipeline. Wrap with %w so callers can
// classify with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTokenFormat = errors.New("invalid token format")
	ErrUserNotFound       = errors.New("user not found")
	ErrNoValidTokens      = errors.New("no valid tokens")
)
