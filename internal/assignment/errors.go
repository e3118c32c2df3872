package assignment

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConflict: the expected version no longer matches. Re-read and retry.
	ErrConflict = errors.New("assignment conflict")
	// ErrValidation: the member list was rejected. Not retryable as is.
	ErrValidation = errors.New("invalid assignment request")
	// ErrNotFound: the challenge does not exist.
	ErrNotFound = errors.New("challenge not found")
	// ErrBackend: the store failed. Retrying is up to the caller.
	ErrBackend = errors.New("assignment backend failure")
)

// ConflictMessage is what users see when another admin got there first.
const ConflictMessage = "Another user modified these assignments. Please close this dialog and try again."

// ConflictError reports an optimistic version mismatch.
type ConflictError struct {
	ChallengeID string
	Expected    string
	Actual      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("challenge %s: assignments modified by another user (expected version %s, found %s)",
		e.ChallengeID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// BackendError wraps a store failure with the operation that hit it.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrBackend and the underlying cause.
func (e *BackendError) Unwrap() []error { return []error{ErrBackend, e.Err} }

// Retryable reports whether the failure looks transient. Everything except
// a cancelled request is.
func (e *BackendError) Retryable() bool {
	return !errors.Is(e.Err, context.Canceled)
}

func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsBackend(err error) bool    { return errors.Is(err, ErrBackend) }

// backendErr passes typed protocol errors through and wraps anything else.
func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) || IsValidation(err) || IsNotFound(err) || IsBackend(err) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
