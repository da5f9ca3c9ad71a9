package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/directory"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

type testServer struct {
	doctor  uuid.UUID
	repo    *appointment.MemoryRepository
	service *appointment.Service
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	doctor := uuid.New()
	store := schedule.NewMemoryStore()
	store.PutTemplate(schedule.Template{
		DoctorID:     doctor,
		DayOfWeek:    time.Monday,
		IsActive:     true,
		StartTime:    "09:00",
		EndTime:      "12:00",
		SlotDuration: 30,
		BufferTime:   10,
	})
	gen := schedule.NewGenerator(store)
	validator := schedule.NewValidator(gen)

	repo := appointment.NewMemoryRepository()
	svc := appointment.NewService(repo, validator, appointment.Options{Logger: zerolog.Nop()})
	t.Cleanup(svc.Wait)

	handler := NewRouter(RouterConfig{
		Service: svc,
		Slots:   gen,
		Checker: validator,
		Doctors: directory.NewStaticDirectory(directory.Doctor{ID: doctor, Name: "Dr. Okoye", Speciality: "Cardiology", Fee: 120}),
		Logger:  zerolog.Nop(),
		Env:     "test",
	})

	return &testServer{doctor: doctor, repo: repo, service: svc, handler: handler}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) booking(hhmm string) AppointmentRequest {
	return AppointmentRequest{
		DoctorID:    s.doctor.String(),
		PatientName: "Grace Hopper",
		Email:       "grace@example.com",
		Phone:       "555-0100",
		Date:        "2024-07-01",
		Time:        hhmm,
		Status:      "SCHEDULED",
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestCreateAppointment(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/appointments", s.booking("09:40"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "09:40", resp.Time)
	assert.Equal(t, "2024-07-01", resp.Date)
	assert.Equal(t, "SCHEDULED", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointment_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppointmentRequest)
		status int
		code   string
	}{
		{"missing fields", func(r *AppointmentRequest) { r.Email, r.Phone = "", "" }, http.StatusBadRequest, "missing_fields"},
		{"bad doctor id", func(r *AppointmentRequest) { r.DoctorID = "nope" }, http.StatusBadRequest, "invalid_doctor_id"},
		{"bad date", func(r *AppointmentRequest) { r.Date = "01/07/2024" }, http.StatusBadRequest, "invalid_date"},
		{"not a slot", func(r *AppointmentRequest) { r.Time = "09:30" }, http.StatusConflict, "schedule_conflict"},
		{"bad time", func(r *AppointmentRequest) { r.Time = "noon" }, http.StatusConflict, "schedule_conflict"},
		{"terminal status", func(r *AppointmentRequest) { r.Status = "COMPLETED" }, http.StatusBadRequest, "invalid_status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			req := s.booking("09:00")
			tt.mutate(&req)

			rec := s.do(t, http.MethodPost, "/appointments", req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateAppointment_MissingFieldsListed(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/appointments", AppointmentRequest{PatientName: "Ada"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"email", "phone", "date", "time", "status", "doctor_id"}, decode[ErrorResponse](t, rec).Fields)
}

func TestCreateAppointment_DoubleBooking(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/appointments", s.booking("10:20")).Code)

	rec := s.do(t, http.MethodPost, "/appointments", s.booking("10:20"))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, appointment.ReasonAlreadyBooked, decode[ErrorResponse](t, rec).Details)
}

func TestAppointmentLifecycle(t *testing.T) {
	s := newTestServer(t)

	created := decode[AppointmentResponse](t, s.do(t, http.MethodPost, "/appointments", s.booking("09:00")))
	path := "/appointments/" + created.ID.String()

	rec := s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[AppointmentResponse](t, rec).ID)

	moved := s.booking("11:00")
	rec = s.do(t, http.MethodPut, path, moved)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "11:00", decode[AppointmentResponse](t, rec).Time)

	rec = s.do(t, http.MethodPost, path+"/status", StatusRequest{Status: "CONFIRMED"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CONFIRMED", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, path+"/status", StatusRequest{Status: "SCHEDULED"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode[ErrorResponse](t, rec).Error)

	stored, err := s.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, stored.Status)
}

func TestAppointment_NotFoundAndBadID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/123", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/appointments/"+uuid.NewString()+"/status", StatusRequest{Status: "CONFIRMED"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t)
	for _, hhmm := range []string{"09:00", "09:40", "10:20"} {
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/appointments", s.booking(hhmm)).Code)
	}

	rec := s.do(t, http.MethodGet, "/appointments?doctor_id="+s.doctor.String()+"&date=2024-07-01&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[AppointmentListResponse](t, rec)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Limit)

	rec = s.do(t, http.MethodGet, "/appointments?status=CONFIRMED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[AppointmentListResponse](t, rec).Items)

	rec = s.do(t, http.MethodGet, "/appointments?status=LOST", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoctorEndpoints(t *testing.T) {
	s := newTestServer(t)
	base := "/doctors/" + s.doctor.String()

	rec := s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Dr. Okoye", decode[directory.Doctor](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/doctors/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/slots?date=2024-07-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"09:00", "09:40", "10:20", "11:00", "11:40"}, decode[SlotsResponse](t, rec).Slots)

	rec = s.do(t, http.MethodGet, base+"/slots?date=2024-07-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{}, decode[SlotsResponse](t, rec).Slots)

	rec = s.do(t, http.MethodGet, base+"/availability?date=2024-07-01&time=09:30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	av := decode[AvailabilityResponse](t, rec)
	assert.False(t, av.Available)
	assert.Equal(t, schedule.ReasonNotASlot, av.Reason)

	rec = s.do(t, http.MethodGet, base+"/availability?date=2024-07-01&time=9.30", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time", decode[ErrorResponse](t, rec).Error)
}

type pingStub struct{ err error }

func (p pingStub) Ping(context.Context) error { return p.err }

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		postgres Pinger
		redis    Pinger
		code     int
		status   string
	}{
		{"all up", pingStub{}, pingStub{}, http.StatusOK, "ok"},
		{"redis down", pingStub{}, pingStub{err: errors.New("down")}, http.StatusOK, "degraded"},
		{"postgres down", pingStub{err: errors.New("down")}, pingStub{}, http.StatusServiceUnavailable, "error"},
		{"memory mode", nil, nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{Postgres: tt.postgres, Redis: tt.redis, Logger: zerolog.Nop()})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.status, decode[ReadinessResponse](t, rec).Status)
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
