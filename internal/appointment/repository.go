package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrConstraintViolation means another active appointment already holds
	// the doctor/date/time.
	ErrConstraintViolation = errors.New("appointment slot constraint violated")
)

// Repository contains all storage interactions needed by the service and the
// reconciliation engine.
type Repository interface {
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	// Update replaces the row when its stored status still equals expected.
	Update(ctx context.Context, a *Appointment, expected Status) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Query returns matches ordered by created_at, then id.
	Query(ctx context.Context, f Filter, p Page) ([]Appointment, error)
	// CountGroupedBy groups all appointments by fields and returns groups
	// with at least minCount members.
	CountGroupedBy(ctx context.Context, fields []Field, minCount int) ([]GroupCount, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
