package scheduler

import (
	"errors"
	"fmt"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

var (
	ErrInvalidSchedule  = entities.ErrInvalidSchedule
	ErrScheduleConflict = errors.New("schedule conflict")
	ErrFieldNotFound    = errors.New("field not found")
	ErrSinkDelivery     = errors.New("notification delivery failed")
	ErrPersistence      = errors.New("persistence failure")
)

// ConflictError is returned when manual control is attempted while a schedule governs the field.
type ConflictError struct {
	FieldID   string
	Requested entities.ValveMode
	Scope     entities.ScheduleScope
	Schedule  entities.Schedule
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot control pump for field %s: governed by active %s schedule %s",
		e.FieldID, e.Scope, e.Schedule)
}

func (e *ConflictError) Unwrap() error { return ErrScheduleConflict }

// FieldError scopes an error to one field.
type FieldError struct {
	FieldID string
	Op      string
	Err     error
}

func (e *FieldError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("field %s: %v", e.FieldID, e.Err)
	}
	return fmt.Sprintf("field %s: %s: %v", e.FieldID, e.Op, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// persistErr wraps a store failure so callers can match ErrPersistence and the cause.
func persistErr(fieldID, op string, err error) error {
	if errors.Is(err, ErrFieldNotFound) {
		return &FieldError{FieldID: fieldID, Op: op, Err: err}
	}
	return &FieldError{FieldID: fieldID, Op: op, Err: fmt.Errorf("%w: %w", ErrPersistence, err)}
}

// NotFound builds the error stores return for unknown field ids.
func NotFound(fieldID string) error {
	return fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
}
