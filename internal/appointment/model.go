package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusCompleted: nil,
	StatusCancelled: nil,
	StatusNoShow:    nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from→to is an edge of the status graph.
// Staying in the same status is not a transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	PatientName string
	Email       string
	Phone       string
	Date        time.Time
	Time        string
	TimeSlot    string
	Status      Status
	CustomerID  string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Field names an appointment column usable for grouping and exact matching.
type Field string

const (
	FieldPatientName Field = "patient_name"
	FieldDoctorID    Field = "doctor_id"
	FieldDate        Field = "date"
	FieldTime        Field = "time"
	FieldTimeSlot    Field = "time_slot"
	FieldPhone       Field = "phone"
	FieldEmail       Field = "email"
	FieldStatus      Field = "status"
)

// Value renders the field the way the database's text cast does.
func (a Appointment) Value(f Field) string {
	switch f {
	case FieldPatientName:
		return a.PatientName
	case FieldDoctorID:
		return a.DoctorID.String()
	case FieldDate:
		return schedule.FormatDate(a.Date)
	case FieldTime:
		return a.Time
	case FieldTimeSlot:
		return a.TimeSlot
	case FieldPhone:
		return a.Phone
	case FieldEmail:
		return a.Email
	case FieldStatus:
		return string(a.Status)
	}
	return ""
}

// Filter narrows Query results. Match holds exact values keyed by field.
type Filter struct {
	DoctorID *uuid.UUID
	Date     *time.Time
	Status   *Status
	Match    map[Field]string
}

type Page struct {
	Limit  int
	Offset int
}

// GroupCount is one row of a GROUP BY ... HAVING count >= n query.
type GroupCount struct {
	Values map[Field]string
	Count  int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Input carries the client-supplied fields for create and update.
type Input struct {
	DoctorID    uuid.UUID
	PatientName string
	Email       string
	Phone       string
	Date        time.Time
	Time        string
	TimeSlot    string
	Status      Status
	CustomerID  string
	Notes       string
}

func (in Input) missingFields() []string {
	var missing []string
	if in.PatientName == "" {
		missing = append(missing, "patient_name")
	}
	if in.Email == "" {
		missing = append(missing, "email")
	}
	if in.Phone == "" {
		missing = append(missing, "phone")
	}
	if in.Date.IsZero() {
		missing = append(missing, "date")
	}
	if in.Time == "" {
		missing = append(missing, "time")
	}
	if in.Status == "" {
		missing = append(missing, "status")
	}
	if in.DoctorID == uuid.Nil {
		missing = append(missing, "doctor_id")
	}
	return missing
}
