package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/directory"
)

type RouterConfig struct {
	Service  AppointmentService
	Slots    SlotGenerator
	Checker  appointment.AvailabilityChecker
	Doctors  directory.Directory
	Postgres Pinger
	Redis    Pinger
	Location *time.Location
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	h := &handlers{
		svc:      cfg.Service,
		slots:    cfg.Slots,
		checker:  cfg.Checker,
		doctors:  cfg.Doctors,
		location: loc,
		logger:   cfg.Logger,
	}

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Doctor schedule endpoints
	r.Route("/doctors/{id}", func(r chi.Router) {
		r.Get("/", h.getDoctor)
		r.Get("/slots", h.listSlots)
		r.Get("/availability", h.checkAvailability)
	})

	// Appointment endpoints
	r.Post("/appointments", h.createAppointment)
	r.Get("/appointments", h.listAppointments)
	r.Get("/appointments/{id}", h.getAppointment)
	r.Put("/appointments/{id}", h.updateAppointment)
	r.Post("/appointments/{id}/status", h.changeStatus)

	return r
}
