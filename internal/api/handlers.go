package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/appointment"
)

func listWindowsHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}

		var locationID *uuid.UUID
		if raw := r.URL.Query().Get("location_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_location_id", "location_id must be a valid UUID")
				return
			}
			locationID = &id
		}

		windows, err := svc.GetWindows(r.Context(), practitionerID, locationID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]WindowResponse, 0, len(windows))
		for i := range windows {
			resp = append(resp, toWindowResponse(&windows[i]))
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func createWindowHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}
		window, ok := decodeWindow(w, r)
		if !ok {
			return
		}
		window.PractitionerID = practitionerID

		created, err := svc.CreateWindow(r.Context(), identityFrom(r.Context()), window)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, toWindowResponse(created))
	}
}

func updateWindowHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		window, ok := decodeWindow(w, r)
		if !ok {
			return
		}
		window.ID = id

		updated, err := svc.UpdateWindow(r.Context(), identityFrom(r.Context()), window)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toWindowResponse(updated))
	}
}

func deleteWindowHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeleteWindow(r.Context(), identityFrom(r.Context()), id); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func decodeWindow(w http.ResponseWriter, r *http.Request) (appointment.AvailabilityWindow, bool) {
	var req WindowRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return appointment.AvailabilityWindow{}, false
	}

	locationID, err := uuid.Parse(req.LocationID)
	if err != nil {
		writeFieldError(w, r, "location_id", "must be a valid UUID")
		return appointment.AvailabilityWindow{}, false
	}
	start, err := appointment.ParseClock(req.StartTime)
	if err != nil {
		writeFieldError(w, r, "start_time", "must be HH:MM")
		return appointment.AvailabilityWindow{}, false
	}
	end, err := appointment.ParseClock(req.EndTime)
	if err != nil {
		writeFieldError(w, r, "end_time", "must be HH:MM")
		return appointment.AvailabilityWindow{}, false
	}

	return appointment.AvailabilityWindow{
		LocationID: locationID,
		Weekday:    time.Weekday(req.Weekday),
		StartTime:  start,
		EndTime:    end,
	}, true
}

func listSlotsHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := uuidParam(w, r, "practitionerID")
		if !ok {
			return
		}

		q := r.URL.Query()
		locationID, err := uuid.Parse(q.Get("location_id"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_location_id", "location_id must be a valid UUID")
			return
		}
		date, err := appointment.ParseDate(q.Get("date"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		// service_type_id narrows availability to ticks that fit the whole visit
		var serviceTypeID *uuid.UUID
		if raw := q.Get("service_type_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_service_type_id", "service_type_id must be a valid UUID")
				return
			}
			serviceTypeID = &id
		}

		var slots []appointment.Slot
		if serviceTypeID != nil {
			slots, err = svc.GenerateSlotsForService(r.Context(), practitionerID, locationID, *serviceTypeID, date)
		} else {
			slots, err = svc.GenerateSlots(r.Context(), practitionerID, locationID, date)
		}
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := SlotsResponse{
			PractitionerID:     practitionerID,
			LocationID:         locationID,
			Date:               date.Format(time.DateOnly),
			GranularityMinutes: int(svc.Granularity() / time.Minute),
			ServiceTypeID:      serviceTypeID,
			Slots:              make([]SlotResponse, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{Time: s.Time.String(), Available: s.Available})
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func bookAppointmentHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body BookAppointmentRequest
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		req, field, reason := body.toBookingRequest()
		if field != "" {
			writeFieldError(w, r, field, reason)
			return
		}

		res, err := svc.BookAppointment(r.Context(), identityFrom(r.Context()), req)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := BookingResponse{Appointment: toAppointmentResponse(res.Appointment)}
		if res.Claim != nil {
			claim := toClaimResponse(res.Claim)
			resp.Claim = &claim
		}
		for _, warning := range res.Warnings {
			resp.Warnings = append(resp.Warnings, warning.Error())
		}
		writeJSON(w, r, http.StatusCreated, resp)
	}
}

// toBookingRequest parses the wire form. On failure it names the offending field.
func (b BookAppointmentRequest) toBookingRequest() (appointment.BookingRequest, string, string) {
	var req appointment.BookingRequest
	var err error

	ids := []struct {
		field string
		raw   string
		dst   *uuid.UUID
	}{
		{"patient_id", b.PatientID, &req.PatientID},
		{"practitioner_id", b.PractitionerID, &req.PractitionerID},
		{"location_id", b.LocationID, &req.LocationID},
		{"service_type_id", b.ServiceTypeID, &req.ServiceTypeID},
	}
	for _, id := range ids {
		if *id.dst, err = uuid.Parse(id.raw); err != nil {
			return req, id.field, "must be a valid UUID"
		}
	}

	if req.Date, err = appointment.ParseDate(b.Date); err != nil {
		return req, "date", "must be YYYY-MM-DD"
	}
	if req.Time, err = appointment.ParseClock(b.Time); err != nil {
		return req, "time", "must be HH:MM"
	}
	if b.Price != "" {
		if req.Price, err = decimal.NewFromString(b.Price); err != nil {
			return req, "price", "must be a decimal amount"
		}
	}
	if b.PatientInsuranceID != nil {
		insuranceID, err := uuid.Parse(*b.PatientInsuranceID)
		if err != nil {
			return req, "patient_insurance_id", "must be a valid UUID"
		}
		req.PatientInsuranceID = &insuranceID
	}
	req.Notes = b.Notes

	return req, "", ""
}

func getAppointmentHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), identityFrom(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

type listFunc func(ctx context.Context, who appointment.Identity, ownerID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)

// listAppointmentsHandler serves both the patient and practitioner history routes.
func listAppointmentsHandler(list listFunc, param string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := uuidParam(w, r, param)
		if !ok {
			return
		}
		limit, ok := intQuery(w, r, "limit")
		if !ok {
			return
		}
		offset, ok := intQuery(w, r, "offset")
		if !ok {
			return
		}

		appointments, err := list(r.Context(), identityFrom(r.Context()), ownerID, limit, offset)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appointments))
		for i := range appointments {
			resp = append(resp, toAppointmentResponse(&appointments[i]))
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

type transitionFunc func(ctx context.Context, who appointment.Identity, id uuid.UUID) (*appointment.Appointment, error)

// transitionHandler serves cancel, complete and no-show.
func transitionHandler(transition transitionFunc, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := transition(r.Context(), identityFrom(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateNotesHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req NotesRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.UpdateNotes(r.Context(), identityFrom(r.Context()), id, req.Notes)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getClaimHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		claim, err := svc.GetClaim(r.Context(), identityFrom(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toClaimResponse(claim))
	}
}

func retryClaimHandler(svc BookingService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, claim, err := svc.RetryInsuranceClaim(r.Context(), identityFrom(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ClaimRetryResponse{
			Appointment: toAppointmentResponse(appt),
			Claim:       toClaimResponse(claim),
		})
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// intQuery reads an optional integer query parameter; absent means 0.
func intQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_"+name, name+" must be an integer")
		return 0, false
	}
	return n, true
}
