package domain

import (
	"errors"
	"fmt"
)

// ErrConflict marks a lost optimistic-version race.
var ErrConflict = errors.New("concurrent modification")

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthorizationError reports an actor lacking the role or ownership an operation needs.
type AuthorizationError struct {
	ActorID string
	Reason  string
}

func (e AuthorizationError) Error() string {
	return "not authorized: " + e.Reason
}

// StateError reports an operation attempted against an incompatible status.
type StateError struct {
	Entity string
	ID     string
	Status string
	Op     string
	Err    error
}

func (e StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: cannot %s: %v", e.Entity, e.ID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: cannot %s in status %s", e.Entity, e.ID, e.Op, e.Status)
}

func (e StateError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PersistenceError wraps an underlying store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
