package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

// CanTransition reports whether a status change is allowed. Only scheduled
// appointments move; every other status is terminal.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	if s != StatusScheduled {
		return false
	}
	switch to {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled
}

type ClaimStatus string

const (
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimApproved  ClaimStatus = "approved"
	ClaimRejected  ClaimStatus = "rejected"
)

type Role string

const (
	RolePatient      Role = "patient"
	RolePractitioner Role = "practitioner"
	RoleGym          Role = "gym"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RolePractitioner, RoleGym, RoleAdmin:
		return true
	}
	return false
}

// Identity is the already authenticated caller. It is passed explicitly into
// every operation that needs to authorize.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Practitioner struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Location struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ServiceType struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
	Price           decimal.Decimal
}

func (st ServiceType) Duration() time.Duration {
	return time.Duration(st.DurationMinutes) * time.Minute
}

type PatientInsurance struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	Provider     string
	PolicyNumber string
}

// AvailabilityWindow is a recurring weekly open period of a practitioner at a
// location. StartTime is always before EndTime.
type AvailabilityWindow struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	LocationID     uuid.UUID
	Weekday        time.Weekday
	StartTime      Clock
	EndTime        Clock
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (w AvailabilityWindow) Contains(start Clock, d time.Duration) bool {
	return start >= w.StartTime && start.Add(d) <= w.EndTime
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	PractitionerID     uuid.UUID
	LocationID         uuid.UUID
	ServiceTypeID      uuid.UUID
	Date               time.Time
	Time               Clock
	DurationMinutes    int
	Status             AppointmentStatus
	Notes              string
	Price              decimal.Decimal
	PatientInsuranceID *uuid.UUID
	InsuranceClaimID   *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a Appointment) End() Clock {
	return a.Time.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the appointment occupies any part of [start, start+d).
func (a Appointment) Overlaps(start Clock, d time.Duration) bool {
	return a.Time < start.Add(d) && start < a.End()
}

// HasParticipant reports whether id is the patient or practitioner of the appointment.
func (a Appointment) HasParticipant(id uuid.UUID) bool {
	return a.PatientID == id || a.PractitionerID == id
}

// Slot is a tick of an availability window annotated for a concrete date.
type Slot struct {
	Date      time.Time
	Time      Clock
	Available bool
}

type InsuranceClaim struct {
	ID                 uuid.UUID
	AppointmentID      uuid.UUID
	PatientInsuranceID uuid.UUID
	ClaimAmount        decimal.Decimal
	Status             ClaimStatus
	Reference          string
	CreatedAt          time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
