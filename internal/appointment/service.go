package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/directory"
	"github.com/hackgods/clinic-booking-engine/internal/metrics"
	"github.com/hackgods/clinic-booking-engine/internal/notify"
	redisclient "github.com/hackgods/clinic-booking-engine/internal/redis"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
)

// AvailabilityChecker is satisfied by *schedule.Validator.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, hhmm string) (schedule.Availability, error)
}

// Options wires the service's collaborators. Nil fields get safe defaults:
// no transaction, no lock, no notifications.
type Options struct {
	Tx            db.TxRunner
	Locker        redisclient.Locker
	Notifier      notify.Notifier
	Doctors       directory.Directory
	Logger        zerolog.Logger
	NotifyTimeout time.Duration
	Now           func() time.Time
}

type Service struct {
	repo          Repository
	checker       AvailabilityChecker
	tx            db.TxRunner
	locker        redisclient.Locker
	notifier      notify.Notifier
	doctors       directory.Directory
	logger        zerolog.Logger
	notifyTimeout time.Duration
	now           func() time.Time

	inflight sync.WaitGroup
}

func NewService(repo Repository, checker AvailabilityChecker, opts Options) *Service {
	s := &Service{
		repo:          repo,
		checker:       checker,
		tx:            opts.Tx,
		locker:        opts.Locker,
		notifier:      opts.Notifier,
		doctors:       opts.Doctors,
		logger:        opts.Logger,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
	}
	if s.tx == nil {
		s.tx = db.NoTx{}
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker{}
	}
	if s.notifier == nil {
		s.notifier = notify.NewNoopNotifier(opts.Logger)
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = 5 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateAppointment books a slot. The availability re-check and the insert
// run in one transaction; the storage uniqueness constraint settles races
// between concurrent requests for the same slot.
func (s *Service) CreateAppointment(ctx context.Context, in Input) (*Appointment, error) {
	in, err := s.prepare(in)
	if err != nil {
		s.record("create", err)
		return nil, err
	}
	if in.Status.Terminal() {
		err := fmt.Errorf("%w: cannot create an appointment as %s", ErrInvalidStatus, in.Status)
		s.record("create", err)
		return nil, err
	}

	var created *Appointment

	err = s.withSlotLock(ctx, in.DoctorID, in.Date, in.Time, func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.checkAvailability(ctx, in.DoctorID, in.Date, in.Time); err != nil {
				return err
			}

			now := s.now().UTC()
			appt, err := s.repo.Create(ctx, &Appointment{
				ID:          uuid.New(),
				DoctorID:    in.DoctorID,
				PatientName: in.PatientName,
				Email:       in.Email,
				Phone:       in.Phone,
				Date:        in.Date,
				Time:        in.Time,
				TimeSlot:    in.TimeSlot,
				Status:      in.Status,
				CustomerID:  in.CustomerID,
				Notes:       in.Notes,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return mapWriteError("create appointment", err)
			}
			created = appt
			return nil
		})
	})
	s.record("create", err)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"doctor_id": created.DoctorID.String(),
		"date":      schedule.FormatDate(created.Date),
		"time":      created.Time,
		"status":    created.Status,
	})
	s.notifyCreated(created)

	return created, nil
}

// UpdateAppointment replaces an appointment's fields. A status change must be
// an edge of the status graph. Availability is checked whenever the slot moves
// or the appointment stays active; a moved slot gets no credit for the one it
// held before.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, in Input) (*Appointment, error) {
	in, err := s.prepare(in)
	if err != nil {
		s.record("update", err)
		return nil, err
	}

	var before, updated *Appointment

	err = s.withSlotLock(ctx, in.DoctorID, in.Date, in.Time, func(ctx context.Context) error {
		return s.tx.InTx(ctx, func(ctx context.Context) error {
			current, err := s.repo.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return err
				}
				return persistence("load appointment", err)
			}
			before = current

			if in.Status != current.Status && !CanTransition(current.Status, in.Status) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, in.Status)
			}

			slotChanged := current.DoctorID != in.DoctorID ||
				!schedule.SameDate(current.Date, in.Date) ||
				current.Time != in.Time
			if slotChanged || !in.Status.Terminal() {
				if err := s.checkAvailability(ctx, in.DoctorID, in.Date, in.Time); err != nil {
					return err
				}
			}

			next := *current
			next.DoctorID = in.DoctorID
			next.PatientName = in.PatientName
			next.Email = in.Email
			next.Phone = in.Phone
			next.Date = in.Date
			next.Time = in.Time
			next.TimeSlot = in.TimeSlot
			next.Status = in.Status
			next.CustomerID = in.CustomerID
			next.Notes = in.Notes
			next.UpdatedAt = s.now().UTC()

			appt, err := s.repo.Update(ctx, &next, current.Status)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return s.staleWrite(ctx, id)
				}
				return mapWriteError("update appointment", err)
			}
			updated = appt
			return nil
		})
	})
	s.record("update", err)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, map[string]any{
		"from_status": before.Status,
		"to_status":   updated.Status,
		"from_slot":   fmt.Sprintf("%s %s", schedule.FormatDate(before.Date), before.Time),
		"to_slot":     fmt.Sprintf("%s %s", schedule.FormatDate(updated.Date), updated.Time),
	})

	return updated, nil
}

// ChangeStatus moves an appointment along the status graph. Disallowed
// transitions leave the stored status untouched.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := s.changeStatus(ctx, id, to)
	s.record("status", err)
	return appt, err
}

func (s *Service) changeStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, persistence("load appointment", err)
	}

	if !CanTransition(current.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.staleWrite(ctx, id)
		}
		return nil, mapWriteError("update status", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from": current.Status,
		"to":   updated.Status,
	})

	return updated, nil
}

// GetAppointment retrieves a single appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, persistence("get appointment", err)
	}
	return appt, nil
}

// ListAppointments pages through appointments matching f
func (s *Service) ListAppointments(ctx context.Context, f Filter, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.repo.Query(ctx, f, Page{Limit: limit, Offset: offset})
	if err != nil {
		return nil, persistence("list appointments", err)
	}
	return appts, nil
}

// Wait blocks until in-flight notifications finish or time out.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// prepare checks required fields and normalizes the date and time so that
// equal slots compare equal in storage.
func (s *Service) prepare(in Input) (Input, error) {
	if missing := in.missingFields(); len(missing) > 0 {
		return in, &MissingFieldsError{Fields: missing}
	}
	if !in.Status.Valid() {
		return in, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	minutes, err := schedule.ParseClock(in.Time)
	if err != nil {
		return in, &ConflictError{Reason: ReasonInvalidTime, Err: err}
	}
	in.Time = schedule.FormatClock(minutes)
	in.Date = schedule.CalendarDate(in.Date)
	return in, nil
}

func (s *Service) checkAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, hhmm string) error {
	av, err := s.checker.IsAvailable(ctx, doctorID, date, hhmm)
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidTimeFormat) {
			return &ConflictError{Reason: ReasonInvalidTime, Err: err}
		}
		return persistence("check availability", err)
	}
	if !av.Available {
		return &ConflictError{Reason: av.Reason}
	}
	return nil
}

// withSlotLock takes the per-slot Redis lock as a fast path. When Redis itself
// fails the booking continues; the database constraint still guards it.
func (s *Service) withSlotLock(ctx context.Context, doctorID uuid.UUID, date time.Time, hhmm string, fn func(ctx context.Context) error) error {
	key := redisclient.SlotKey(doctorID, date, hhmm)
	ran := false

	err := s.locker.WithLock(ctx, key, func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return &ConflictError{Reason: ReasonSlotBusy, Err: err}
	case err != nil && !ran:
		s.logger.Warn().Err(err).Str("lock_key", key).Msg("slot lock unavailable, relying on database constraint")
		return fn(ctx)
	}
	return err
}

// staleWrite explains a conditional write that matched no row.
func (s *Service) staleWrite(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return persistence("reload appointment", err)
	}
	return fmt.Errorf("%w: status changed concurrently", ErrInvalidStatusTransition)
}

func mapWriteError(op string, err error) error {
	switch {
	case errors.Is(err, ErrConstraintViolation):
		return &ConflictError{Reason: ReasonAlreadyBooked, Err: err}
	case errors.Is(err, ErrAppointmentNotFound):
		return err
	}
	return persistence(op, err)
}

func (s *Service) record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrScheduleConflict):
		result = "conflict"
	case errors.Is(err, ErrMissingFields):
		result = "missing_fields"
	case errors.Is(err, ErrAppointmentNotFound):
		result = "not_found"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidStatusTransition):
		result = "invalid_status"
	default:
		result = "error"
	}
	metrics.BookingsTotal.WithLabelValues(op, result).Inc()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

// BookingPayload is the body of a booking.created notification.
type BookingPayload struct {
	AppointmentID string            `json:"appointment_id"`
	DoctorID      string            `json:"doctor_id"`
	Doctor        *directory.Doctor `json:"doctor,omitempty"`
	PatientName   string            `json:"patient_name"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	Date          string            `json:"date"`
	Time          string            `json:"time"`
	TimeSlot      string            `json:"time_slot,omitempty"`
	Status        Status            `json:"status"`
	CustomerID    string            `json:"customer_id,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// notifyCreated hands the booking to the notifier in the background. Errors
// are logged and counted; the booking is already committed.
func (s *Service) notifyCreated(appt *Appointment) {
	payload := BookingPayload{
		AppointmentID: appt.ID.String(),
		DoctorID:      appt.DoctorID.String(),
		PatientName:   appt.PatientName,
		Email:         appt.Email,
		Phone:         appt.Phone,
		Date:          schedule.FormatDate(appt.Date),
		Time:          appt.Time,
		TimeSlot:      appt.TimeSlot,
		Status:        appt.Status,
		CustomerID:    appt.CustomerID,
		Notes:         appt.Notes,
		CreatedAt:     appt.CreatedAt,
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		log := s.logger.With().
			Str("appointment_id", payload.AppointmentID).
			Str("notifier", s.notifier.Name()).
			Logger()

		if s.doctors != nil {
			doc, err := s.doctors.Doctor(ctx, appt.DoctorID)
			if err != nil {
				log.Debug().Err(err).Msg("doctor lookup for notification failed")
			} else {
				payload.Doctor = doc
			}
		}

		ev, err := notify.NewEvent(notify.EventBookingCreated, payload)
		if err == nil {
			err = s.notifier.Notify(ctx, ev)
		}
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(s.notifier.Name(), "failed").Inc()
			log.Warn().Err(err).Msg("booking notification failed")
			return
		}
		metrics.NotificationsTotal.WithLabelValues(s.notifier.Name(), "ok").Inc()
	}()
}
