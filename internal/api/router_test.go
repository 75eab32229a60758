package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/practice-booking/internal/appointment"
	"github.com/hackgods/practice-booking/internal/config"
)

type testServer struct {
	handler      http.Handler
	repo         *appointment.MemoryRepository
	patient      uuid.UUID
	practitioner uuid.UUID
	location     uuid.UUID
	service      uuid.UUID
	insurance    uuid.UUID
	date         string
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	ts := &testServer{
		repo:         repo,
		patient:      uuid.New(),
		practitioner: uuid.New(),
		location:     uuid.New(),
		service:      uuid.New(),
		insurance:    uuid.New(),
		date:         nextMonday().Format(time.DateOnly),
	}
	repo.AddPatient(appointment.Patient{ID: ts.patient, Name: "Ada"})
	repo.AddPractitioner(appointment.Practitioner{ID: ts.practitioner, Name: "Dr. Chen"})
	repo.AddLocation(appointment.Location{ID: ts.location, Name: "Location 7"})
	repo.AddServiceType(appointment.ServiceType{
		ID:              ts.service,
		Name:            "Consultation",
		DurationMinutes: 60,
		Price:           decimal.NewFromInt(120),
	})
	repo.AddPatientInsurance(appointment.PatientInsurance{
		ID:        ts.insurance,
		PatientID: ts.patient,
		Provider:  "Acme Health",
	})

	log := zaptest.NewLogger(t)
	svc := appointment.NewService(repo, nil, nil, log, config.Config{
		SlotGranularity: time.Hour,
		Location:        time.UTC,
	})

	ts.handler = NewRouter(RouterConfig{
		Service:      svc,
		Logger:       log,
		Dependencies: deps,
		CORSOrigins:  []string{"http://localhost:3000"},
		Env:          "test",
		Version:      "test",
	})
	return ts
}

// nextMonday is at least a week ahead so bookings are never in the past.
func nextMonday() time.Time {
	d := appointment.DateOf(time.Now().UTC()).AddDate(0, 0, 7)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func (ts *testServer) do(t *testing.T, method, path string, who *appointment.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != nil {
		req.Header.Set(headerUserID, who.UserID.String())
		req.Header.Set(headerRole, string(who.Role))
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) asPatient() *appointment.Identity {
	return &appointment.Identity{UserID: ts.patient, Role: appointment.RolePatient}
}

func (ts *testServer) asPractitioner() *appointment.Identity {
	return &appointment.Identity{UserID: ts.practitioner, Role: appointment.RolePractitioner}
}

func (ts *testServer) createWindow(t *testing.T, start, end string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/practitioners/"+ts.practitioner.String()+"/windows", ts.asPractitioner(), WindowRequest{
		LocationID: ts.location.String(),
		Weekday:    int(time.Monday),
		StartTime:  start,
		EndTime:    end,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) slots(t *testing.T) SlotsResponse {
	t.Helper()
	rec := ts.do(t, http.MethodGet,
		"/practitioners/"+ts.practitioner.String()+"/slots?location_id="+ts.location.String()+"&date="+ts.date, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (ts *testServer) bookingBody(at string) BookAppointmentRequest {
	return BookAppointmentRequest{
		PatientID:      ts.patient.String(),
		PractitionerID: ts.practitioner.String(),
		LocationID:     ts.location.String(),
		ServiceTypeID:  ts.service.String(),
		Date:           ts.date,
		Time:           at,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBookingFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "09:00", "12:00")

	slots := ts.slots(t)
	assert.Equal(t, 60, slots.GranularityMinutes)
	require.Len(t, slots.Slots, 3)
	for _, s := range slots.Slots {
		assert.True(t, s.Available)
	}

	rec := ts.do(t, http.MethodPost, "/appointments", ts.asPatient(), ts.bookingBody("10:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decode[BookingResponse](t, rec)
	assert.Equal(t, "scheduled", booked.Appointment.Status)
	assert.Equal(t, "10:00", booked.Appointment.Time)
	assert.Equal(t, "120.00", booked.Appointment.Price)
	assert.Empty(t, booked.Warnings)

	slots = ts.slots(t)
	assert.Equal(t, []SlotResponse{
		{Time: "09:00", Available: true},
		{Time: "10:00", Available: false},
		{Time: "11:00", Available: true},
	}, slots.Slots)

	rec = ts.do(t, http.MethodPost, "/appointments", ts.asPatient(), ts.bookingBody("10:00"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", decode[ErrorResponse](t, rec).Error)

	apptPath := "/appointments/" + booked.Appointment.ID.String()

	rec = ts.do(t, http.MethodGet, apptPath, ts.asPractitioner(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPatch, apptPath+"/notes", ts.asPatient(), NotesRequest{Notes: "running late"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running late", decode[AppointmentResponse](t, rec).Notes)

	rec = ts.do(t, http.MethodPost, apptPath+"/cancel", ts.asPatient(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, apptPath+"/complete", ts.asPractitioner(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	for _, s := range ts.slots(t).Slots {
		assert.True(t, s.Available, s.Time)
	}

	rec = ts.do(t, http.MethodGet, "/patients/"+ts.patient.String()+"/appointments?limit=5", ts.asPatient(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]AppointmentResponse](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "cancelled", history[0].Status)
}

func TestSlotsForServiceType(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "09:00", "12:00")

	long := uuid.New()
	ts.repo.AddServiceType(appointment.ServiceType{ID: long, Name: "Annual check-up", DurationMinutes: 90})

	base := "/practitioners/" + ts.practitioner.String() + "/slots?location_id=" + ts.location.String() + "&date=" + ts.date

	rec := ts.do(t, http.MethodGet, base+"&service_type_id="+long.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SlotsResponse](t, rec)
	require.NotNil(t, resp.ServiceTypeID)
	assert.Equal(t, long, *resp.ServiceTypeID)
	assert.Equal(t, []SlotResponse{
		{Time: "09:00", Available: true},
		{Time: "10:00", Available: true},
		{Time: "11:00", Available: false},
	}, resp.Slots)

	body := ts.bookingBody("11:00")
	body.ServiceTypeID = long.String()
	rec = ts.do(t, http.MethodPost, "/appointments", ts.asPatient(), body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	body = ts.bookingBody("10:00")
	body.ServiceTypeID = long.String()
	rec = ts.do(t, http.MethodPost, "/appointments", ts.asPatient(), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, base+"&service_type_id="+long.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, s := range decode[SlotsResponse](t, rec).Slots {
		assert.False(t, s.Available, s.Time)
	}

	rec = ts.do(t, http.MethodGet, base+"&service_type_id=nope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_service_type_id", decode[ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, base+"&service_type_id="+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookWithInsurance(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "09:00", "12:00")

	body := ts.bookingBody("09:00")
	insurance := ts.insurance.String()
	body.PatientInsuranceID = &insurance

	rec := ts.do(t, http.MethodPost, "/appointments", ts.asPatient(), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decode[BookingResponse](t, rec)
	require.NotNil(t, booked.Claim)
	require.NotNil(t, booked.Appointment.InsuranceClaimID)
	assert.Equal(t, booked.Claim.ID, *booked.Appointment.InsuranceClaimID)
	assert.Equal(t, "120.00", booked.Claim.ClaimAmount)

	path := "/appointments/" + booked.Appointment.ID.String() + "/claim"
	rec = ts.do(t, http.MethodGet, path, ts.asPatient(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booked.Claim.ID, decode[ClaimResponse](t, rec).ID)

	rec = ts.do(t, http.MethodPost, path+"/retry", ts.asPatient(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "claim_already_linked", decode[ErrorResponse](t, rec).Error)
}

func TestBookAppointment_RequestErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.createWindow(t, "09:00", "12:00")

	cases := []struct {
		name   string
		who    *appointment.Identity
		body   any
		status int
		code   string
	}{
		{
			name:   "no identity",
			body:   ts.bookingBody("09:00"),
			status: http.StatusUnauthorized,
			code:   "unauthenticated",
		},
		{
			name:   "bad json",
			who:    ts.asPatient(),
			body:   "not an object",
			status: http.StatusBadRequest,
			code:   "invalid_request_body",
		},
		{
			name: "bad time",
			who:  ts.asPatient(),
			body: func() BookAppointmentRequest {
				b := ts.bookingBody("nine")
				return b
			}(),
			status: http.StatusUnprocessableEntity,
			code:   "validation_failed",
		},
		{
			name: "past date",
			who:  ts.asPatient(),
			body: func() BookAppointmentRequest {
				b := ts.bookingBody("09:00")
				b.Date = "2020-01-06"
				return b
			}(),
			status: http.StatusUnprocessableEntity,
			code:   "validation_failed",
		},
		{
			name:   "booking for someone else",
			who:    &appointment.Identity{UserID: uuid.New(), Role: appointment.RolePatient},
			body:   ts.bookingBody("09:00"),
			status: http.StatusForbidden,
			code:   "forbidden",
		},
		{
			name: "unknown service type",
			who:  ts.asPatient(),
			body: func() BookAppointmentRequest {
				b := ts.bookingBody("09:00")
				b.ServiceTypeID = uuid.NewString()
				return b
			}(),
			status: http.StatusNotFound,
			code:   "service_type_not_found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", tc.who, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestWindowsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/practitioners/"+ts.practitioner.String()+"/windows", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	ts.createWindow(t, "09:00", "12:00")

	rec = ts.do(t, http.MethodGet, "/practitioners/"+ts.practitioner.String()+"/windows?location_id="+ts.location.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	windows := decode[[]WindowResponse](t, rec)
	require.Len(t, windows, 1)
	assert.Equal(t, "09:00", windows[0].StartTime)

	path := "/windows/" + windows[0].ID.String()
	rec = ts.do(t, http.MethodPut, path, ts.asPractitioner(), WindowRequest{
		LocationID: ts.location.String(),
		Weekday:    int(time.Monday),
		StartTime:  "12:00",
		EndTime:    "09:00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.do(t, http.MethodDelete, path, ts.asPatient(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodDelete, path, ts.asPractitioner(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodDelete, path, ts.asPractitioner(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/practitioners/not-a-uuid/slots?location_id="+ts.location.String()+"&date="+ts.date, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/practitioners/"+ts.practitioner.String()+"/slots?location_id="+ts.location.String()+"&date=monday", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("down") })

	t.Run("live", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodGet, "/health/live", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)
	})

	t.Run("degraded when optional dependency is down", func(t *testing.T) {
		ts := newTestServer(t,
			Dependency{Name: "postgres", Pinger: up, Critical: true},
			Dependency{Name: "redis", Pinger: down},
		)
		rec := ts.do(t, http.MethodGet, "/health/ready", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[ReadinessResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, resp.Dependencies)
	})

	t.Run("error when critical dependency is down", func(t *testing.T) {
		ts := newTestServer(t,
			Dependency{Name: "postgres", Pinger: down, Critical: true},
			Dependency{Name: "redis", Pinger: up},
		)
		rec := ts.do(t, http.MethodGet, "/health/ready", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "error", decode[ReadinessResponse](t, rec).Status)
	})
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/health/live", nil, nil)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}
