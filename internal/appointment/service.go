package appointment

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/config"
	"github.com/hackgods/practice-booking/internal/notify"
	redisclient "github.com/hackgods/practice-booking/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventClaimFailed          = "INSURANCE_CLAIM_FAILED"
	EventClaimLinked          = "INSURANCE_CLAIM_LINKED"
)

const (
	defaultGranularity     = 30 * time.Minute
	defaultDurationMinutes = 60
	defaultClaimBatch      = 50
)

type Service struct {
	repo        Repository
	locker      redisclient.Locker
	notifier    notify.Notifier
	log         *zap.Logger
	validate    *validator.Validate
	granularity time.Duration
	loc         *time.Location
	claimBatch  int
	now         func() time.Time
}

// NewService wires the booking core. locker may be nil, in which case the
// storage layer alone guards against double booking.
func NewService(repo Repository, locker redisclient.Locker, notifier notify.Notifier, log *zap.Logger, cfg config.Config) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Service{
		repo:        repo,
		locker:      locker,
		notifier:    notifier,
		log:         log,
		validate:    newValidator(),
		granularity: cfg.SlotGranularity,
		loc:         cfg.Location,
		claimBatch:  cfg.ClaimBatchSize,
		now:         time.Now,
	}
	if s.granularity <= 0 {
		s.granularity = defaultGranularity
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.claimBatch <= 0 {
		s.claimBatch = defaultClaimBatch
	}
	return s
}

// Granularity is the tick length applied by every read and write path.
func (s *Service) Granularity() time.Duration {
	return s.granularity
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationError turns the first validator failure into a ValidationError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("", err.Error())
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return invalid(fe.Field(), "is required")
	case "max":
		return invalid(fe.Field(), "must be at most "+fe.Param()+" characters")
	case "min", "gte":
		return invalid(fe.Field(), "must be at least "+fe.Param())
	case "lt", "lte":
		return invalid(fe.Field(), "is out of range")
	default:
		return invalid(fe.Field(), "failed "+fe.Tag()+" check")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log",
			zap.String("event", eventType),
			zap.Stringer("appointment_id", appointmentID),
			zap.Error(err),
		)
	}
}

// publish hands a lifecycle event to the notifier. Failures are logged and
// never undo the write that triggered them.
func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	ev := notify.Event{
		Type:           eventType,
		AppointmentID:  a.ID,
		PatientID:      a.PatientID,
		PractitionerID: a.PractitionerID,
		LocationID:     a.LocationID,
		Date:           a.Date.Format(time.DateOnly),
		Time:           a.Time.String(),
		OccurredAt:     s.now().UTC(),
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.log.Warn("publish notification",
			zap.String("event", eventType),
			zap.Stringer("appointment_id", a.ID),
			zap.Error(err),
		)
	}
}

func isAdmin(who Identity) bool {
	return who.Role == RoleAdmin
}

// ownsCalendar reports whether who may act on practitionerID's calendar.
func ownsCalendar(who Identity, practitionerID uuid.UUID) bool {
	return isAdmin(who) || (who.Role == RolePractitioner && who.UserID == practitionerID)
}

func canView(who Identity, a *Appointment) bool {
	return isAdmin(who) || a.HasParticipant(who.UserID)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
