package domain

import (
	"errors"
	"fmt"
)

// ValidationError indicates bad input shape or values. The caller must
// correct the input before resubmitting; it is never retried internally.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError indicates an unknown session or item ID.
type NotFoundError struct {
	Kind string // "session" or "item"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError indicates the item is already in a terminal state, its
// session is closed to mutation, or a concurrent transition won the race.
// Stored fields are unchanged.
type ConflictError struct {
	ItemID string
	Status ReviewStatus
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("item %s is already %s", e.ItemID, e.Status)
}

// PreconditionError indicates session completion is blocked by unresolved
// items. PendingItems reports exactly how many items block it.
type PreconditionError struct {
	SessionID    string
	PendingItems int
	Reason       string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("session %s: %s", e.SessionID, e.Reason)
	}
	return fmt.Sprintf("session %s has %d unresolved items", e.SessionID, e.PendingItems)
}

// DownstreamError indicates an external collaborator (extraction engine or
// question bank) failed. The wrapped error carries the original cause.
type DownstreamError struct {
	System string
	Err    error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.System, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// TransientError indicates a network-level fault (timeout, connection reset,
// 5xx) that is safe to retry. The extraction gateway retries these up to its
// configured limit before surfacing a DownstreamError.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConflict reports whether err is a terminal-state conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is an unknown-ID error.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
