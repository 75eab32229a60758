package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrSlotTaken               = errors.New("slot is already booked")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrForbidden               = errors.New("not allowed for this identity")
	ErrValidation              = errors.New("validation failed")
	ErrPartialFailure          = errors.New("booking completed with a failed side step")
	ErrNoInsurance             = errors.New("appointment has no insurance selected")
	ErrClaimAlreadyLinked      = errors.New("appointment already has an insurance claim")
)

// IsConflict reports whether err means the chosen tick was taken between the
// caller's read and its write. Callers should re-fetch slots.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrSlotBeingBooked)
}

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PartialFailure marks a booking whose appointment was written but whose
// follow-up step (claim creation or linking) failed. The appointment is valid.
type PartialFailure struct {
	Step string
	Err  error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *PartialFailure) Is(target error) bool { return target == ErrPartialFailure }

func (e *PartialFailure) Unwrap() error { return e.Err }
