package sync_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")

	// Webhook security rejections
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleEvent       = errors.New("stale event")
	ErrTooLarge         = errors.New("payload too large")

	// Integration faults
	ErrMissingMapping     = errors.New("missing channel mapping")
	ErrConnectionInactive = errors.New("connection inactive")
	ErrVersionConflict    = errors.New("version conflict")
)

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
