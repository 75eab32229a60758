package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound          = errors.New("patient not found")
	ErrPractitionerNotFound     = errors.New("practitioner not found")
	ErrLocationNotFound         = errors.New("location not found")
	ErrServiceTypeNotFound      = errors.New("service type not found")
	ErrPatientInsuranceNotFound = errors.New("patient insurance not found")
	ErrWindowNotFound           = errors.New("availability window not found")
	ErrAppointmentNotFound      = errors.New("appointment not found")
	ErrClaimNotFound            = errors.New("insurance claim not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error)
	GetServiceTypeByID(ctx context.Context, id uuid.UUID) (*ServiceType, error)
	GetPatientInsuranceByID(ctx context.Context, id uuid.UUID) (*PatientInsurance, error)

	// Availability index. A nil locationID lists every location.
	ListWindows(ctx context.Context, practitionerID uuid.UUID, locationID *uuid.UUID) ([]AvailabilityWindow, error)
	ListWindowsForDay(ctx context.Context, practitionerID, locationID uuid.UUID, weekday time.Weekday) ([]AvailabilityWindow, error)
	GetWindowByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	CreateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, id uuid.UUID) error

	// For conflict checks
	ListActiveAppointmentsForDay(ctx context.Context, practitionerID, locationID uuid.UUID, date time.Time) ([]Appointment, error)

	// InsertAppointment must atomically refuse the insert with ErrSlotTaken when
	// an active appointment of the same practitioner and location overlaps it.
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	UpdateAppointmentNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error)
	LinkInsuranceClaim(ctx context.Context, appointmentID, claimID uuid.UUID) (*Appointment, error)

	// Claim retry worker
	FindUnlinkedInsured(ctx context.Context, limit int) ([]Appointment, error)

	CreateInsuranceClaim(ctx context.Context, c InsuranceClaim) (*InsuranceClaim, error)
	GetClaimByAppointment(ctx context.Context, appointmentID uuid.UUID) (*InsuranceClaim, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
