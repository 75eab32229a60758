package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practice-booking/internal/appointment"
)

type WindowRequest struct {
	LocationID string `json:"location_id"`
	Weekday    int    `json:"weekday"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

type WindowResponse struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	LocationID     uuid.UUID `json:"location_id"`
	Weekday        int       `json:"weekday"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
}

type SlotResponse struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

type SlotsResponse struct {
	PractitionerID     uuid.UUID      `json:"practitioner_id"`
	LocationID         uuid.UUID      `json:"location_id"`
	Date               string         `json:"date"`
	GranularityMinutes int            `json:"granularity_minutes"`
	ServiceTypeID      *uuid.UUID     `json:"service_type_id,omitempty"`
	Slots              []SlotResponse `json:"slots"`
}

type BookAppointmentRequest struct {
	PatientID          string  `json:"patient_id"`
	PractitionerID     string  `json:"practitioner_id"`
	LocationID         string  `json:"location_id"`
	ServiceTypeID      string  `json:"service_type_id"`
	Date               string  `json:"date"`
	Time               string  `json:"time"`
	Price              string  `json:"price,omitempty"`
	Notes              string  `json:"notes,omitempty"`
	PatientInsuranceID *string `json:"patient_insurance_id,omitempty"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PractitionerID     uuid.UUID  `json:"practitioner_id"`
	LocationID         uuid.UUID  `json:"location_id"`
	ServiceTypeID      uuid.UUID  `json:"service_type_id"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             string     `json:"status"`
	Notes              string     `json:"notes"`
	Price              string     `json:"price"`
	PatientInsuranceID *uuid.UUID `json:"patient_insurance_id,omitempty"`
	InsuranceClaimID   *uuid.UUID `json:"insurance_claim_id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type ClaimResponse struct {
	ID                 uuid.UUID `json:"id"`
	AppointmentID      uuid.UUID `json:"appointment_id"`
	PatientInsuranceID uuid.UUID `json:"patient_insurance_id"`
	ClaimAmount        string    `json:"claim_amount"`
	Status             string    `json:"status"`
	Reference          string    `json:"reference"`
	CreatedAt          time.Time `json:"created_at"`
}

type BookingResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Claim       *ClaimResponse      `json:"claim,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

type ClaimRetryResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Claim       ClaimResponse       `json:"claim"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toWindowResponse(w *appointment.AvailabilityWindow) WindowResponse {
	return WindowResponse{
		ID:             w.ID,
		PractitionerID: w.PractitionerID,
		LocationID:     w.LocationID,
		Weekday:        int(w.Weekday),
		StartTime:      w.StartTime.String(),
		EndTime:        w.EndTime.String(),
	}
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		PractitionerID:     a.PractitionerID,
		LocationID:         a.LocationID,
		ServiceTypeID:      a.ServiceTypeID,
		Date:               a.Date.Format(time.DateOnly),
		Time:               a.Time.String(),
		DurationMinutes:    a.DurationMinutes,
		Status:             string(a.Status),
		Notes:              a.Notes,
		Price:              a.Price.StringFixed(2),
		PatientInsuranceID: a.PatientInsuranceID,
		InsuranceClaimID:   a.InsuranceClaimID,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toClaimResponse(c *appointment.InsuranceClaim) ClaimResponse {
	return ClaimResponse{
		ID:                 c.ID,
		AppointmentID:      c.AppointmentID,
		PatientInsuranceID: c.PatientInsuranceID,
		ClaimAmount:        c.ClaimAmount.StringFixed(2),
		Status:             string(c.Status),
		Reference:          c.Reference,
		CreatedAt:          c.CreatedAt,
	}
}
