package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GetWindows lists the recurring windows of a practitioner, at one location or
// across all of them when locationID is nil. An unconfigured practitioner
// yields an empty slice.
func (s *Service) GetWindows(ctx context.Context, practitionerID uuid.UUID, locationID *uuid.UUID) ([]AvailabilityWindow, error) {
	windows, err := s.repo.ListWindows(ctx, practitionerID, locationID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if windows == nil {
		windows = []AvailabilityWindow{}
	}
	return windows, nil
}

func (s *Service) CreateWindow(ctx context.Context, who Identity, w AvailabilityWindow) (*AvailabilityWindow, error) {
	if !ownsCalendar(who, w.PractitionerID) {
		return nil, ErrForbidden
	}
	if err := s.validateWindow(w); err != nil {
		return nil, err
	}
	if err := s.checkCalendarRefs(ctx, w.PractitionerID, w.LocationID); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateWindow(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}

	s.log.Info("availability window created",
		zap.Stringer("window_id", created.ID),
		zap.Stringer("practitioner_id", created.PractitionerID),
		zap.Stringer("weekday", created.Weekday),
	)
	return created, nil
}

// UpdateWindow replaces location, weekday and times of an existing window.
// The owning practitioner never changes.
func (s *Service) UpdateWindow(ctx context.Context, who Identity, w AvailabilityWindow) (*AvailabilityWindow, error) {
	existing, err := s.repo.GetWindowByID(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	if !ownsCalendar(who, existing.PractitionerID) {
		return nil, ErrForbidden
	}

	w.PractitionerID = existing.PractitionerID
	if err := s.validateWindow(w); err != nil {
		return nil, err
	}
	if w.LocationID != existing.LocationID {
		if _, err := s.repo.GetLocationByID(ctx, w.LocationID); err != nil {
			return nil, fmt.Errorf("load location: %w", err)
		}
	}

	updated, err := s.repo.UpdateWindow(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("update window: %w", err)
	}
	return updated, nil
}

// DeleteWindow removes a window. Appointments already booked inside it stay.
func (s *Service) DeleteWindow(ctx context.Context, who Identity, id uuid.UUID) error {
	existing, err := s.repo.GetWindowByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load window: %w", err)
	}
	if !ownsCalendar(who, existing.PractitionerID) {
		return ErrForbidden
	}

	if err := s.repo.DeleteWindow(ctx, id); err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	return nil
}

// validateWindow also pins StartTime to the day's tick grid so overlapping
// windows of one practitioner always expand onto the same ticks.
func (s *Service) validateWindow(w AvailabilityWindow) error {
	if w.PractitionerID == uuid.Nil {
		return invalid("practitioner_id", "is required")
	}
	if w.LocationID == uuid.Nil {
		return invalid("location_id", "is required")
	}
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return invalid("weekday", "must be between 0 (Sunday) and 6 (Saturday)")
	}
	if !w.StartTime.Valid() {
		return invalid("start_time", "must be a time of day")
	}
	if !w.EndTime.ValidEnd() {
		return invalid("end_time", "must be a time of day or 24:00")
	}
	if w.StartTime >= w.EndTime {
		return invalid("end_time", "must be after start_time")
	}
	if step := Clock(s.granularity / time.Minute); step > 0 && w.StartTime%step != 0 {
		return invalid("start_time", fmt.Sprintf("must be a multiple of %d minutes after midnight", step))
	}
	return nil
}

func (s *Service) checkCalendarRefs(ctx context.Context, practitionerID, locationID uuid.UUID) error {
	if _, err := s.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		if errors.Is(err, ErrPractitionerNotFound) {
			return err
		}
		return fmt.Errorf("load practitioner: %w", err)
	}
	if _, err := s.repo.GetLocationByID(ctx, locationID); err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			return err
		}
		return fmt.Errorf("load location: %w", err)
	}
	return nil
}
