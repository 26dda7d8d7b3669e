package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	Auth    Authenticator
	Logger  *zap.Logger
	Checks  []Check
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log.Named("http")))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability is a public snapshot read
	r.Get("/doctors/{doctorID}/hospitals/{hospitalID}/availability", availabilityHandler(cfg.Service))

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Patch("/{id}/status", updateStatusHandler(cfg.Service))
	})

	return r
}
