// Package notify publishes booking lifecycle events to downstream consumers
// (email, calendar sync). Publishing is fire-and-forget from the booking
// core's point of view.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

type Event struct {
	Type           string    `json:"type"`
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	LocationID     uuid.UUID `json:"location_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
