package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingFields           = errors.New("missing required fields")
	ErrScheduleConflict        = errors.New("schedule conflict")
	ErrPersistence             = errors.New("persistence failure")
	ErrInvalidStatus           = errors.New("invalid status")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

const (
	ReasonAlreadyBooked = "slot already booked"
	ReasonInvalidTime   = "invalid time"
	ReasonSlotBusy      = "slot is currently being booked, please retry"
)

// MissingFieldsError lists the absent fields. It matches ErrMissingFields.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingFields, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}

// ConflictError explains why a requested time cannot be booked. It matches
// ErrScheduleConflict and unwraps to the underlying cause, if any.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrScheduleConflict, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrScheduleConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
