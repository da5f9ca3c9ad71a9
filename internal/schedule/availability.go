package schedule

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	ReasonNotScheduled  = "not scheduled this day"
	ReasonInactive      = "inactive"
	ReasonOutsideHours  = "outside working hours"
	ReasonBlockedDate   = "unavailable on this date"
	ReasonNotASlot      = "not a valid slot"
	ReasonBrokenPattern = "schedule misconfigured"
)

type Availability struct {
	Available bool
	Reason    string
}

// Validator decides whether a requested time is one of the doctor's slots.
// It does not look at existing bookings.
type Validator struct {
	gen *Generator
}

func NewValidator(gen *Generator) *Validator {
	return &Validator{gen: gen}
}

// IsAvailable checks hhmm against the doctor's template for date. A malformed
// hhmm returns an error wrapping ErrInvalidTimeFormat.
func (v *Validator) IsAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, hhmm string) (Availability, error) {
	d, err := v.gen.resolve(ctx, doctorID, date)
	if err != nil {
		return Availability{}, err
	}
	if d.template == nil {
		return Availability{Reason: ReasonNotScheduled}, nil
	}
	if !d.template.IsActive {
		return Availability{Reason: ReasonInactive}, nil
	}

	minutes, err := ParseClock(hhmm)
	if err != nil {
		return Availability{}, err
	}

	start, err := ParseClock(d.template.StartTime)
	if err != nil {
		return Availability{Reason: ReasonBrokenPattern}, nil
	}
	end, err := ParseClock(d.template.EndTime)
	if err != nil {
		return Availability{Reason: ReasonBrokenPattern}, nil
	}
	if minutes < start || minutes >= end {
		return Availability{Reason: ReasonOutsideHours}, nil
	}

	if d.blocked != nil {
		reason := ReasonBlockedDate
		if label := d.blocked.label(); label != "" {
			reason = fmt.Sprintf("%s (%s)", ReasonBlockedDate, label)
		}
		return Availability{Reason: reason}, nil
	}

	if !slices.Contains(Slots(*d.template), FormatClock(minutes)) {
		return Availability{Reason: ReasonNotASlot}, nil
	}
	return Availability{Available: true}, nil
}
