package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/directory"
	"github.com/hackgods/clinic-booking-engine/internal/metrics"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, in appointment.Input) (*appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, in appointment.Input) (*appointment.Appointment, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.Filter, limit, offset int) ([]appointment.Appointment, error)
}

type SlotGenerator interface {
	GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error)
}

type handlers struct {
	svc      AppointmentService
	slots    SlotGenerator
	checker  appointment.AvailabilityChecker
	doctors  directory.Directory
	location *time.Location
	logger   zerolog.Logger
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.CreateAppointment(r.Context(), in)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(appt))
}

func (h *handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.UpdateAppointment(r.Context(), id, in)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *handlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	appt, err := h.svc.ChangeStatus(r.Context(), id, appointment.Status(req.Status))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(appt))
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f appointment.Filter

	if v := q.Get("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		f.DoctorID = &id
	}
	if v := q.Get("date"); v != "" {
		date, err := schedule.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}
		f.Date = &date
	}
	if v := q.Get("status"); v != "" {
		status := appointment.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+v)
			return
		}
		f.Status = &status
	}

	limit := 20
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 100)
		}
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	appts, err := h.svc.ListAppointments(r.Context(), f, limit, offset)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := AppointmentListResponse{
		Items:  make([]AppointmentResponse, 0, len(appts)),
		Limit:  limit,
		Offset: offset,
	}
	for i := range appts {
		resp.Items = append(resp.Items, toResponse(&appts[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_doctor_id")
	if !ok {
		return
	}

	doc, err := h.doctors.Doctor(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *handlers) listSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_doctor_id")
	if !ok {
		return
	}
	date, ok := h.queryDate(w, r)
	if !ok {
		return
	}

	start := time.Now()
	slots, err := h.slots.GenerateSlots(r.Context(), id, date)
	metrics.SlotQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{
		DoctorID: id,
		Date:     schedule.FormatDate(date),
		Slots:    slots,
	})
}

func (h *handlers) checkAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", "invalid_doctor_id")
	if !ok {
		return
	}
	date, ok := h.queryDate(w, r)
	if !ok {
		return
	}
	hhmm := r.URL.Query().Get("time")

	av, err := h.checker.IsAvailable(r.Context(), id, date, hhmm)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		DoctorID:  id,
		Date:      schedule.FormatDate(date),
		Time:      hhmm,
		Available: av.Available,
		Reason:    av.Reason,
	})
}

// decodeInput parses the request body. Empty fields stay zero so the service
// can report every missing field at once.
func (h *handlers) decodeInput(w http.ResponseWriter, r *http.Request) (appointment.Input, bool) {
	var req AppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return appointment.Input{}, false
	}

	in := appointment.Input{
		PatientName: req.PatientName,
		Email:       req.Email,
		Phone:       req.Phone,
		Time:        req.Time,
		TimeSlot:    req.TimeSlot,
		Status:      appointment.Status(req.Status),
		CustomerID:  req.CustomerID,
		Notes:       req.Notes,
	}

	if req.DoctorID != "" {
		id, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return appointment.Input{}, false
		}
		in.DoctorID = id
	}
	if req.Date != "" {
		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return appointment.Input{}, false
		}
		in.Date = date
	}

	return in, true
}

// queryDate reads ?date=, defaulting to today in the clinic's zone.
func (h *handlers) queryDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return schedule.Today(time.Now(), h.location), true
	}
	date, err := schedule.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return time.Time{}, false
	}
	return date, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *appointment.MissingFieldsError
	var conflict *appointment.ConflictError

	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Details: err.Error(),
			Fields:  missing.Fields,
		})
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "schedule_conflict", conflict.Reason)
	case errors.Is(err, schedule.ErrInvalidTimeFormat):
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, directory.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		h.logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
