package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/appointment"
)

// BookingService is the booking core as seen by the HTTP layer.
type BookingService interface {
	GetWindows(ctx context.Context, practitionerID uuid.UUID, locationID *uuid.UUID) ([]appointment.AvailabilityWindow, error)
	CreateWindow(ctx context.Context, who appointment.Identity, w appointment.AvailabilityWindow) (*appointment.AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, who appointment.Identity, w appointment.AvailabilityWindow) (*appointment.AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, who appointment.Identity, id uuid.UUID) error

	GenerateSlots(ctx context.Context, practitionerID, locationID uuid.UUID, date time.Time) ([]appointment.Slot, error)
	GenerateSlotsForService(ctx context.Context, practitionerID, locationID, serviceTypeID uuid.UUID, date time.Time) ([]appointment.Slot, error)
	Granularity() time.Duration

	BookAppointment(ctx context.Context, who appointment.Identity, req appointment.BookingRequest) (*appointment.BookingResult, error)
	GetAppointment(ctx context.Context, who appointment.Identity, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, who appointment.Identity, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsByPractitioner(ctx context.Context, who appointment.Identity, practitionerID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	CancelAppointment(ctx context.Context, who appointment.Identity, id uuid.UUID) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, who appointment.Identity, id uuid.UUID) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, who appointment.Identity, id uuid.UUID) (*appointment.Appointment, error)
	UpdateNotes(ctx context.Context, who appointment.Identity, id uuid.UUID, notes string) (*appointment.Appointment, error)

	GetClaim(ctx context.Context, who appointment.Identity, appointmentID uuid.UUID) (*appointment.InsuranceClaim, error)
	RetryInsuranceClaim(ctx context.Context, who appointment.Identity, id uuid.UUID) (*appointment.Appointment, *appointment.InsuranceClaim, error)
}

type RouterConfig struct {
	Service         BookingService
	Logger          *zap.Logger
	Dependencies    []Dependency
	CORSOrigins     []string
	RateLimitPerMin int
	Env             string
	Version         string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	svc := cfg.Service

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", headerUserID, headerRole},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
	}

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// availability reads are public
	r.Get("/practitioners/{practitionerID}/windows", listWindowsHandler(svc, log))
	r.Get("/practitioners/{practitionerID}/slots", listSlotsHandler(svc, log))

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Post("/practitioners/{practitionerID}/windows", createWindowHandler(svc, log))
		r.Put("/windows/{id}", updateWindowHandler(svc, log))
		r.Delete("/windows/{id}", deleteWindowHandler(svc, log))

		r.Get("/practitioners/{practitionerID}/appointments", listAppointmentsHandler(svc.ListAppointmentsByPractitioner, "practitionerID", log))
		r.Get("/patients/{patientID}/appointments", listAppointmentsHandler(svc.ListAppointmentsByPatient, "patientID", log))

		r.Post("/appointments", bookAppointmentHandler(svc, log))
		r.Route("/appointments/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(svc, log))
			r.Post("/cancel", transitionHandler(svc.CancelAppointment, log))
			r.Post("/complete", transitionHandler(svc.CompleteAppointment, log))
			r.Post("/no-show", transitionHandler(svc.MarkNoShow, log))
			r.Patch("/notes", updateNotesHandler(svc, log))
			r.Get("/claim", getClaimHandler(svc, log))
			r.Post("/claim/retry", retryClaimHandler(svc, log))
		})
	})

	return r
}
