package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/notify"
	redisclient "github.com/hackgods/practice-booking/internal/redis"
)

// BookingRequest selects one tick for one patient. A zero Price falls back to
// the service type's list price. A non-nil PatientInsuranceID asks for an
// insurance claim to be filed with the booking.
type BookingRequest struct {
	PatientID          uuid.UUID       `json:"patient_id" validate:"required"`
	PractitionerID     uuid.UUID       `json:"practitioner_id" validate:"required"`
	LocationID         uuid.UUID       `json:"location_id" validate:"required"`
	ServiceTypeID      uuid.UUID       `json:"service_type_id" validate:"required"`
	Date               time.Time       `json:"date" validate:"required"`
	Time               Clock           `json:"time" validate:"gte=0,lt=1440"`
	Price              decimal.Decimal `json:"price"`
	Notes              string          `json:"notes" validate:"max=2000"`
	PatientInsuranceID *uuid.UUID      `json:"patient_insurance_id"`
}

// BookingResult is a successful booking. Warnings carries non-fatal
// *PartialFailure values, e.g. a claim that could not be filed.
type BookingResult struct {
	Appointment *Appointment
	Claim       *InsuranceClaim
	Warnings    []error
}

// BookAppointment re-validates the chosen tick and writes the appointment.
// A tick taken concurrently fails with an error matching IsConflict.
func (s *Service) BookAppointment(ctx context.Context, who Identity, req BookingRequest) (*BookingResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if !canBook(who, req) {
		return nil, ErrForbidden
	}

	date := DateOf(req.Date)
	if !req.Time.On(date, s.loc).After(s.now()) {
		return nil, invalid("date", "must not be in the past")
	}
	if req.Price.IsNegative() {
		return nil, invalid("price", "must not be negative")
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if err := s.checkCalendarRefs(ctx, req.PractitionerID, req.LocationID); err != nil {
		return nil, err
	}
	service, err := s.repo.GetServiceTypeByID(ctx, req.ServiceTypeID)
	if err != nil {
		if errors.Is(err, ErrServiceTypeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service type: %w", err)
	}

	if req.PatientInsuranceID != nil {
		ins, err := s.repo.GetPatientInsuranceByID(ctx, *req.PatientInsuranceID)
		if err != nil {
			if errors.Is(err, ErrPatientInsuranceNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load patient insurance: %w", err)
		}
		if ins.PatientID != req.PatientID {
			return nil, invalid("patient_insurance_id", "does not belong to the patient")
		}
	}

	duration := serviceDuration(service)
	durationMinutes := int(duration / time.Minute)

	windows, err := s.repo.ListWindowsForDay(ctx, req.PractitionerID, req.LocationID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("list windows for day: %w", err)
	}
	if !onGrid(windows, req.Time, duration, s.granularity) {
		return nil, invalid("time", "is not a bookable tick of an availability window")
	}

	price := req.Price
	if price.IsZero() {
		price = service.Price
	}

	appt := Appointment{
		PatientID:          req.PatientID,
		PractitionerID:     req.PractitionerID,
		LocationID:         req.LocationID,
		ServiceTypeID:      req.ServiceTypeID,
		Date:               date,
		Time:               req.Time,
		DurationMinutes:    durationMinutes,
		Status:             StatusScheduled,
		Notes:              req.Notes,
		Price:              price,
		PatientInsuranceID: req.PatientInsuranceID,
	}

	created, err := s.insertLocked(ctx, appt)
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.Stringer("appointment_id", created.ID),
		zap.Stringer("practitioner_id", created.PractitionerID),
		zap.String("date", created.Date.Format(time.DateOnly)),
		zap.Stringer("time", created.Time),
	)
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"patient_id":      created.PatientID.String(),
		"practitioner_id": created.PractitionerID.String(),
		"location_id":     created.LocationID.String(),
		"date":            created.Date.Format(time.DateOnly),
		"time":            created.Time.String(),
		"duration":        created.DurationMinutes,
		"price":           created.Price.String(),
	})

	result := &BookingResult{Appointment: created}

	if created.PatientInsuranceID != nil {
		linked, claim, err := s.attachClaim(ctx, created)
		if err != nil {
			result.Warnings = append(result.Warnings, err)
		} else {
			result.Appointment = linked
			result.Claim = claim
		}
	}

	s.publish(ctx, notify.EventAppointmentBooked, result.Appointment)

	return result, nil
}

// insertLocked writes the appointment under the per practitioner-day lock.
// The repository refuses overlapping inserts on its own; the lock only keeps
// concurrent bookers from racing into the storage guard, so an unreachable
// Redis degrades to a plain insert.
func (s *Service) insertLocked(ctx context.Context, appt Appointment) (*Appointment, error) {
	var created *Appointment
	insert := func(ctx context.Context) error {
		a, err := s.repo.InsertAppointment(ctx, appt)
		if err != nil {
			return err
		}
		created = a
		return nil
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, dayLockKey(appt.PractitionerID, appt.LocationID, appt.Date), insert)
		if errors.Is(err, redisclient.ErrLockUnavailable) {
			s.log.Warn("calendar lock unavailable, relying on storage guard",
				zap.Stringer("practitioner_id", appt.PractitionerID),
				zap.String("date", appt.Date.Format(time.DateOnly)),
				zap.Error(err),
			)
			err = insert(ctx)
		}
	} else {
		err = insert(ctx)
	}

	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return nil, ErrSlotBeingBooked
	case errors.Is(err, ErrSlotTaken):
		s.log.Info("slot already taken",
			zap.Stringer("practitioner_id", appt.PractitionerID),
			zap.String("date", appt.Date.Format(time.DateOnly)),
			zap.Stringer("time", appt.Time),
		)
		return nil, err
	default:
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
}

func serviceDuration(st *ServiceType) time.Duration {
	if st == nil || st.DurationMinutes <= 0 {
		return defaultDurationMinutes * time.Minute
	}
	return time.Duration(st.DurationMinutes) * time.Minute
}

func dayLockKey(practitionerID, locationID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("%s:%s:%s", practitionerID, locationID, date.Format(time.DateOnly))
}

// canBook: patients book for themselves, practitioners into their own
// calendar, admins anything.
func canBook(who Identity, req BookingRequest) bool {
	switch who.Role {
	case RoleAdmin:
		return true
	case RolePatient:
		return who.UserID == req.PatientID
	case RolePractitioner:
		return who.UserID == req.PractitionerID
	}
	return false
}

func (s *Service) CancelAppointment(ctx context.Context, who Identity, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, who, id, StatusCancelled, canView)
}

func (s *Service) CompleteAppointment(ctx context.Context, who Identity, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, who, id, StatusCompleted, recordsOutcome)
}

func (s *Service) MarkNoShow(ctx context.Context, who Identity, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, who, id, StatusNoShow, recordsOutcome)
}

func recordsOutcome(who Identity, a *Appointment) bool {
	return ownsCalendar(who, a.PractitionerID)
}

func (s *Service) transition(ctx context.Context, who Identity, id uuid.UUID, to AppointmentStatus, allowed func(Identity, *Appointment) bool) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !allowed(who, appt) {
		return nil, ErrForbidden
	}
	if !appt.Status.CanTransition(to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		// the row exists, so a miss means another writer moved it first
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, updated.ID, transitionEvent(to), map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
		"by":   who.UserID.String(),
		"role": string(who.Role),
	})
	if to == StatusCancelled {
		s.publish(ctx, notify.EventAppointmentCancelled, updated)
	}
	return updated, nil
}

func transitionEvent(to AppointmentStatus) string {
	switch to {
	case StatusCancelled:
		return EventAppointmentCancelled
	case StatusCompleted:
		return EventAppointmentCompleted
	default:
		return EventAppointmentNoShow
	}
}

// UpdateNotes replaces the free-text notes of an appointment in any status.
func (s *Service) UpdateNotes(ctx context.Context, who Identity, id uuid.UUID, notes string) (*Appointment, error) {
	if utf8.RuneCountInString(notes) > 2000 {
		return nil, invalid("notes", "must be at most 2000 characters")
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canView(who, appt) {
		return nil, ErrForbidden
	}

	updated, err := s.repo.UpdateAppointmentNotes(ctx, id, notes)
	if err != nil {
		return nil, fmt.Errorf("update notes: %w", err)
	}
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, who Identity, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !canView(who, appt) {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListAppointmentsByPatient pages through a patient's history, newest first.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, who Identity, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if !isAdmin(who) && !(who.Role == RolePatient && who.UserID == patientID) {
		return nil, ErrForbidden
	}
	limit, offset = normalizePage(limit, offset)

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByPractitioner pages through a practitioner's calendar, newest first.
func (s *Service) ListAppointmentsByPractitioner(ctx context.Context, who Identity, practitionerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if !ownsCalendar(who, practitionerID) {
		return nil, ErrForbidden
	}
	limit, offset = normalizePage(limit, offset)

	appointments, err := s.repo.ListAppointmentsByPractitioner(ctx, practitionerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by practitioner: %w", err)
	}
	return appointments, nil
}
