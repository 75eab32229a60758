package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// GenerateSlots expands the practitioner's windows for date's weekday into
// ticks and marks every tick touched by an active appointment unavailable.
// A day without windows yields an empty slice.
func (s *Service) GenerateSlots(ctx context.Context, practitionerID, locationID uuid.UUID, date time.Time) ([]Slot, error) {
	return s.generate(ctx, practitionerID, locationID, date, s.granularity)
}

// GenerateSlotsForService is GenerateSlots for a visit of the given service
// type: a tick is available only when the whole visit fits inside a window
// and overlaps no active appointment, the same rule BookAppointment applies.
func (s *Service) GenerateSlotsForService(ctx context.Context, practitionerID, locationID, serviceTypeID uuid.UUID, date time.Time) ([]Slot, error) {
	service, err := s.repo.GetServiceTypeByID(ctx, serviceTypeID)
	if err != nil {
		if errors.Is(err, ErrServiceTypeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load service type: %w", err)
	}
	return s.generate(ctx, practitionerID, locationID, date, serviceDuration(service))
}

func (s *Service) generate(ctx context.Context, practitionerID, locationID uuid.UUID, date time.Time, visit time.Duration) ([]Slot, error) {
	day := DateOf(date)

	windows, err := s.repo.ListWindowsForDay(ctx, practitionerID, locationID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("list windows for day: %w", err)
	}
	ticks := expandWindows(windows, s.granularity)
	if len(ticks) == 0 {
		return []Slot{}, nil
	}

	booked, err := s.repo.ListActiveAppointmentsForDay(ctx, practitionerID, locationID, day)
	if err != nil {
		return nil, fmt.Errorf("list appointments for day: %w", err)
	}

	slots := make([]Slot, 0, len(ticks))
	for _, tick := range ticks {
		slots = append(slots, Slot{
			Date:      day,
			Time:      tick,
			Available: onGrid(windows, tick, visit, s.granularity) && !occupied(booked, tick, visit),
		})
	}
	return slots, nil
}

// expandWindows walks each window in steps of step and returns the distinct
// ticks in ascending order. A final step that would run past the window end
// is dropped.
func expandWindows(windows []AvailabilityWindow, step time.Duration) []Clock {
	if step < time.Minute {
		return nil
	}

	seen := make(map[Clock]struct{})
	var ticks []Clock
	for _, w := range windows {
		for t := w.StartTime; t.Add(step) <= w.EndTime; t = t.Add(step) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			ticks = append(ticks, t)
		}
	}

	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

func occupied(booked []Appointment, tick Clock, step time.Duration) bool {
	for _, a := range booked {
		if a.Status.Active() && a.Overlaps(tick, step) {
			return true
		}
	}
	return false
}

// onGrid reports whether start is a tick of some window that also holds the
// whole [start, start+d) range.
func onGrid(windows []AvailabilityWindow, start Clock, d, step time.Duration) bool {
	stepMinutes := Clock(step / time.Minute)
	if stepMinutes <= 0 {
		return false
	}
	for _, w := range windows {
		if w.Contains(start, d) && (start-w.StartTime)%stepMinutes == 0 {
			return true
		}
	}
	return false
}
