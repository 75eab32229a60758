package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/practice-booking/internal/config"
	"github.com/hackgods/practice-booking/internal/notify"
	redisclient "github.com/hackgods/practice-booking/internal/redis"
)

var (
	// Thursday morning; every booking date in these tests lies after it.
	fixedNow = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	monday   = time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// claimRepo fails the claim steps on demand.
type claimRepo struct {
	*MemoryRepository
	createErr error
	linkErr   error
}

func (r *claimRepo) CreateInsuranceClaim(ctx context.Context, c InsuranceClaim) (*InsuranceClaim, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	return r.MemoryRepository.CreateInsuranceClaim(ctx, c)
}

func (r *claimRepo) LinkInsuranceClaim(ctx context.Context, appointmentID, claimID uuid.UUID) (*Appointment, error) {
	if r.linkErr != nil {
		return nil, r.linkErr
	}
	return r.MemoryRepository.LinkInsuranceClaim(ctx, appointmentID, claimID)
}

type fixture struct {
	repo     *claimRepo
	svc      *Service
	notifier *recordingNotifier

	patient      uuid.UUID
	otherPatient uuid.UUID
	practitioner uuid.UUID
	location     uuid.UUID
	service      uuid.UUID
	insurance    uuid.UUID
}

type fixtureOption func(*config.Config)

func withGranularity(d time.Duration) fixtureOption {
	return func(cfg *config.Config) { cfg.SlotGranularity = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	mem := NewMemoryRepository()
	mem.now = func() time.Time { return fixedNow }

	f := &fixture{
		repo:         &claimRepo{MemoryRepository: mem},
		notifier:     &recordingNotifier{},
		patient:      uuid.New(),
		otherPatient: uuid.New(),
		practitioner: uuid.New(),
		location:     uuid.New(),
		service:      uuid.New(),
		insurance:    uuid.New(),
	}

	mem.AddPatient(Patient{ID: f.patient, Name: "Ada Patient"})
	mem.AddPatient(Patient{ID: f.otherPatient, Name: "Bo Patient"})
	mem.AddPractitioner(Practitioner{ID: f.practitioner, Name: "Dr. Chen"})
	mem.AddLocation(Location{ID: f.location, Name: "Location 7"})
	mem.AddServiceType(ServiceType{
		ID:              f.service,
		Name:            "Physiotherapy",
		DurationMinutes: 60,
		Price:           decimal.RequireFromString("80.00"),
	})
	mem.AddPatientInsurance(PatientInsurance{
		ID:           f.insurance,
		PatientID:    f.patient,
		Provider:     "Acme Health",
		PolicyNumber: "POL-1",
	})

	cfg := config.Config{
		SlotGranularity: 60 * time.Minute,
		Location:        time.UTC,
		ClaimBatchSize:  10,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f.svc = NewService(f.repo, nil, f.notifier, zaptest.NewLogger(t), cfg)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *fixture) withLocker(l redisclient.Locker) *fixture {
	f.svc.locker = l
	return f
}

func (f *fixture) addWindow(t *testing.T, weekday time.Weekday, start, end string) *AvailabilityWindow {
	t.Helper()
	w, err := f.repo.CreateWindow(context.Background(), AvailabilityWindow{
		PractitionerID: f.practitioner,
		LocationID:     f.location,
		Weekday:        weekday,
		StartTime:      mustClock(t, start),
		EndTime:        mustClock(t, end),
	})
	require.NoError(t, err)
	return w
}

func (f *fixture) request(t *testing.T, date time.Time, at string) BookingRequest {
	t.Helper()
	return BookingRequest{
		PatientID:      f.patient,
		PractitionerID: f.practitioner,
		LocationID:     f.location,
		ServiceTypeID:  f.service,
		Date:           date,
		Time:           mustClock(t, at),
	}
}

func (f *fixture) asPatient() Identity {
	return Identity{UserID: f.patient, Role: RolePatient}
}

func (f *fixture) asPractitioner() Identity {
	return Identity{UserID: f.practitioner, Role: RolePractitioner}
}

func asAdmin() Identity {
	return Identity{UserID: uuid.New(), Role: RoleAdmin}
}

func mustClock(t *testing.T, s string) Clock {
	t.Helper()
	c, err := ParseClock(s)
	require.NoError(t, err)
	return c
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, ev := range f.repo.Events() {
		out = append(out, ev.EventType)
	}
	return out
}
