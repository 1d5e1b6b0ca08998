// Package shared defines sentinel errors used across the server layers.
// Callers should use errors.Is to match these values.
package shared

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Validation errors: rejected before any state change.
	ErrValidation        = errors.New("validation error")
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrInvalidPeerURL    = errors.New("invalid peer url")

	// Conflict errors: violated state-machine preconditions.
	// ErrNoCopyAvailable means no copy of the book exists at all;
	// ErrAlreadyBorrowed means copies exist but none is available.
	ErrNoCopyAvailable   = errors.New("no copy available")
	ErrAlreadyBorrowed   = errors.New("already borrowed")
	ErrRequestNotPending = errors.New("request is not pending")
	ErrLoanNotActive     = errors.New("loan is not active")
	ErrCopyNotAvailable  = errors.New("copy is not available")

	// Transient errors: eligible for caller-driven retry.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	ErrInternal = errors.New("internal error")
)
