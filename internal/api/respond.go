package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/appointment"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	writeJSON(w, r, status, ErrorResponse{Error: code, Details: details})
}

func writeFieldError(w http.ResponseWriter, r *http.Request, field, reason string) {
	writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", field+" "+reason)
}

// writeServiceError maps booking core errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without internals.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var verr *appointment.ValidationError

	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", verr.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, r, http.StatusConflict, "slot_taken", "the selected time is no longer available, please pick another slot")
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, r, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, r, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrClaimAlreadyLinked):
		writeError(w, r, http.StatusConflict, "claim_already_linked", err.Error())
	case errors.Is(err, appointment.ErrNoInsurance):
		writeError(w, r, http.StatusUnprocessableEntity, "no_insurance", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, r, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, r, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrPractitionerNotFound):
		writeError(w, r, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, appointment.ErrLocationNotFound):
		writeError(w, r, http.StatusNotFound, "location_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceTypeNotFound):
		writeError(w, r, http.StatusNotFound, "service_type_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientInsuranceNotFound):
		writeError(w, r, http.StatusNotFound, "patient_insurance_not_found", err.Error())
	case errors.Is(err, appointment.ErrWindowNotFound):
		writeError(w, r, http.StatusNotFound, "window_not_found", err.Error())
	case errors.Is(err, appointment.ErrClaimNotFound):
		writeError(w, r, http.StatusNotFound, "claim_not_found", err.Error())
	default:
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected error, please retry")
	}
}
