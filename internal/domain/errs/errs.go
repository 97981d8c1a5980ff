package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrVersionConflict       = errors.New("version conflict")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrInvariantViolation    = errors.New("invariant violation")
	ErrServiceUnavailable    = errors.New("service unavailable")
	ErrIdempotencyInProgress = errors.New("request is already in progress")
)

// ValidationError reports malformed or out-of-range input. Not retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(entity, id string) error { return &NotFoundError{Entity: entity, ID: id} }

// VersionConflictError means the write targeted a stale version; re-read and retry.
type VersionConflictError struct {
	Entity  string
	ID      string
	Version int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s: stale version %d", e.Entity, e.ID, e.Version)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// InvariantViolationError is a failed internal consistency check. It is a
// programming error and must be surfaced, never swallowed.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// ExternalServiceError wraps a failing collaborator (gateway, chain, price feed).
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error { return []error{ErrServiceUnavailable, e.Err} }

func External(service string, err error) error { return &ExternalServiceError{Service: service, Err: err} }
