package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. A single mutex makes the
// overlap check and the insert in InsertAppointment one atomic step.
type MemoryRepository struct {
	mu            sync.RWMutex
	now           func() time.Time
	patients      map[uuid.UUID]*Patient
	practitioners map[uuid.UUID]*Practitioner
	locations     map[uuid.UUID]*Location
	services      map[uuid.UUID]*ServiceType
	insurances    map[uuid.UUID]*PatientInsurance
	windows       map[uuid.UUID]*AvailabilityWindow
	appointments  map[uuid.UUID]*Appointment
	claims        map[uuid.UUID]*InsuranceClaim // appointment ID -> claim
	events        []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:           time.Now,
		patients:      make(map[uuid.UUID]*Patient),
		practitioners: make(map[uuid.UUID]*Practitioner),
		locations:     make(map[uuid.UUID]*Location),
		services:      make(map[uuid.UUID]*ServiceType),
		insurances:    make(map[uuid.UUID]*PatientInsurance),
		windows:       make(map[uuid.UUID]*AvailabilityWindow),
		appointments:  make(map[uuid.UUID]*Appointment),
		claims:        make(map[uuid.UUID]*InsuranceClaim),
	}
}

// Seeding helpers for setup and tests.

func (m *MemoryRepository) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = &p
}

func (m *MemoryRepository) AddPractitioner(p Practitioner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.practitioners[p.ID] = &p
}

func (m *MemoryRepository) AddLocation(l Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.ID] = &l
}

func (m *MemoryRepository) AddServiceType(st ServiceType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[st.ID] = &st
}

func (m *MemoryRepository) AddPatientInsurance(pi PatientInsurance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insurances[pi.ID] = &pi
}

// Events returns a copy of the recorded event log.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetPractitionerByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetLocationByID(_ context.Context, id uuid.UUID) (*Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[id]
	if !ok {
		return nil, ErrLocationNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryRepository) GetServiceTypeByID(_ context.Context, id uuid.UUID) (*ServiceType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.services[id]
	if !ok {
		return nil, ErrServiceTypeNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryRepository) GetPatientInsuranceByID(_ context.Context, id uuid.UUID) (*PatientInsurance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pi, ok := m.insurances[id]
	if !ok {
		return nil, ErrPatientInsuranceNotFound
	}
	cp := *pi
	return &cp, nil
}

func (m *MemoryRepository) ListWindows(_ context.Context, practitionerID uuid.UUID, locationID *uuid.UUID) ([]AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []AvailabilityWindow{}
	for _, w := range m.windows {
		if w.PractitionerID != practitionerID {
			continue
		}
		if locationID != nil && w.LocationID != *locationID {
			continue
		}
		result = append(result, *w)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		if a.LocationID != b.LocationID {
			return a.LocationID.String() < b.LocationID.String()
		}
		return a.StartTime < b.StartTime
	})
	return result, nil
}

func (m *MemoryRepository) ListWindowsForDay(_ context.Context, practitionerID, locationID uuid.UUID, weekday time.Weekday) ([]AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []AvailabilityWindow{}
	for _, w := range m.windows {
		if w.PractitionerID == practitionerID && w.LocationID == locationID && w.Weekday == weekday {
			result = append(result, *w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime < result[j].StartTime })
	return result, nil
}

func (m *MemoryRepository) GetWindowByID(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryRepository) CreateWindow(_ context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.ID = uuid.New()
	w.CreatedAt = m.now()
	w.UpdatedAt = w.CreatedAt
	m.windows[w.ID] = &w
	cp := w
	return &cp, nil
}

func (m *MemoryRepository) UpdateWindow(_ context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.windows[w.ID]
	if !ok {
		return nil, ErrWindowNotFound
	}
	existing.LocationID = w.LocationID
	existing.Weekday = w.Weekday
	existing.StartTime = w.StartTime
	existing.EndTime = w.EndTime
	existing.UpdatedAt = m.now()
	cp := *existing
	return &cp, nil
}

func (m *MemoryRepository) DeleteWindow(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[id]; !ok {
		return ErrWindowNotFound
	}
	delete(m.windows, id)
	return nil
}

func (m *MemoryRepository) ListActiveAppointmentsForDay(_ context.Context, practitionerID, locationID uuid.UUID, date time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeForDay(practitionerID, locationID, DateOf(date)), nil
}

func (m *MemoryRepository) activeForDay(practitionerID, locationID uuid.UUID, date time.Time) []Appointment {
	result := []Appointment{}
	for _, a := range m.appointments {
		if a.PractitionerID == practitionerID && a.LocationID == locationID &&
			a.Date.Equal(date) && a.Status.Active() {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Time < result[j].Time })
	return result
}

func (m *MemoryRepository) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.Date = DateOf(a.Date)
	d := time.Duration(a.DurationMinutes) * time.Minute
	for _, existing := range m.activeForDay(a.PractitionerID, a.LocationID, a.Date) {
		if existing.Overlaps(a.Time, d) {
			return nil, ErrSlotTaken
		}
	}

	a.ID = uuid.New()
	a.Status = StatusScheduled
	a.InsuranceClaimID = nil
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	m.appointments[a.ID] = &a
	cp := a
	return &cp, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) listBy(match func(*Appointment) bool, limit, offset int) []Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := []Appointment{}
	for _, a := range m.appointments {
		if match(a) {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].Time > all[j].Time
	})

	if offset >= len(all) {
		return []Appointment{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func (m *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return m.listBy(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (m *MemoryRepository) ListAppointmentsByPractitioner(_ context.Context, practitionerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return m.listBy(func(a *Appointment) bool { return a.PractitionerID == practitionerID }, limit, offset), nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) UpdateAppointmentNotes(_ context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Notes = notes
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) LinkInsuranceClaim(_ context.Context, appointmentID, claimID uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[appointmentID]
	if !ok || a.InsuranceClaimID != nil {
		return nil, ErrAppointmentNotFound
	}
	id := claimID
	a.InsuranceClaimID = &id
	a.UpdatedAt = m.now()
	cp := *a
	return &cp, nil
}

func (m *MemoryRepository) FindUnlinkedInsured(_ context.Context, limit int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []Appointment{}
	for _, a := range m.appointments {
		if a.Status == StatusScheduled && a.PatientInsuranceID != nil && a.InsuranceClaimID == nil {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryRepository) CreateInsuranceClaim(_ context.Context, c InsuranceClaim) (*InsuranceClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.claims[c.AppointmentID]; ok {
		cp := *existing
		return &cp, nil
	}
	c.ID = uuid.New()
	c.CreatedAt = m.now()
	m.claims[c.AppointmentID] = &c
	cp := c
	return &cp, nil
}

func (m *MemoryRepository) GetClaimByAppointment(_ context.Context, appointmentID uuid.UUID) (*InsuranceClaim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[appointmentID]
	if !ok {
		return nil, ErrClaimNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events = append(m.events, ev)
	return nil
}
