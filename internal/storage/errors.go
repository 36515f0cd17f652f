package storage

import "errors"

// Sentinel errors shared by every provider. Providers wrap them with
// detail; callers match with errors.Is.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized reports a rejected or expired credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation reports a payload rejected before any write.
	ErrValidation = errors.New("validation failed")
)
