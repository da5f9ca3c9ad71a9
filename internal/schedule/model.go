// Package schedule turns weekly doctor templates and calendar exceptions into
// bookable slots and answers whether a requested time is one of them.
package schedule

import (
	"time"

	"github.com/google/uuid"
)

type SpecialDateType string

const (
	SpecialDateUnavailable SpecialDateType = "UNAVAILABLE"
	SpecialDateOther       SpecialDateType = "OTHER"
)

// Template is a doctor's working pattern for one weekday. Times are "HH:MM"
// in the clinic's zone.
type Template struct {
	DoctorID     uuid.UUID
	DayOfWeek    time.Weekday
	IsActive     bool
	StartTime    string
	EndTime      string
	SlotDuration int // minutes
	BufferTime   int // minutes between the end of one slot and the next start
	BreakStart   *string
	BreakEnd     *string
}

// SpecialDate is a calendar exception. A nil DoctorID applies to every doctor.
type SpecialDate struct {
	ID       uuid.UUID
	Date     time.Time
	DoctorID *uuid.UUID
	Type     SpecialDateType
	Name     string
	Reason   string
}

// Blocks reports whether the exception makes doctorID unavailable all day on date.
// Clinic-wide entries block regardless of type; doctor entries only when UNAVAILABLE.
func (s SpecialDate) Blocks(doctorID uuid.UUID, date time.Time) bool {
	if !SameDate(s.Date, date) {
		return false
	}
	if s.DoctorID == nil {
		return true
	}
	return *s.DoctorID == doctorID && s.Type == SpecialDateUnavailable
}

func (s SpecialDate) label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Reason
}
