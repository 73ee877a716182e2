package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateSuppressed = errors.New("duplicate submission suppressed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStaleTransition     = errors.New("stale status transition")
	ErrUnknownFamily       = errors.New("unknown job family")
)
