package domain

import (
	"errors"
	"fmt"

	"rentflow/internal/models"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrStateConflict = errors.New("state conflict")
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StateConflictError reports an action that is illegal for the booking's current status.
type StateConflictError struct {
	Status models.BookingStatus
	Action models.Action
	Reason string
}

func NewStateConflict(status models.BookingStatus, action models.Action, reason string) *StateConflictError {
	return &StateConflictError{Status: status, Action: action, Reason: reason}
}

func (e *StateConflictError) Error() string {
	msg := fmt.Sprintf("cannot %s booking in status %s", e.Action, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}
