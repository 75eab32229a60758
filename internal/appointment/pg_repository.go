package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

const appointmentColumns = `id, patient_id, practitioner_id, location_id, service_type_id, date, start_time,
	duration_minutes, status, notes, price::text, patient_insurance_id, insurance_claim_id, created_at, updated_at`

const windowColumns = `id, practitioner_id, location_id, weekday, start_time, end_time, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner

	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPractitionerNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location

	err := row.Scan(&l.ID, &l.Name, &l.Address, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &l, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var weekday int16
	var start, end pgtype.Time

	err := row.Scan(
		&w.ID,
		&w.PractitionerID,
		&w.LocationID,
		&weekday,
		&start,
		&end,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.Weekday = time.Weekday(weekday)
	w.StartTime = clockFromPg(start)
	w.EndTime = clockFromPg(end)
	return &w, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start pgtype.Time
	var price string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.LocationID,
		&a.ServiceTypeID,
		&a.Date,
		&start,
		&a.DurationMinutes,
		&a.Status,
		&a.Notes,
		&price,
		&a.PatientInsuranceID,
		&a.InsuranceClaimID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Time = clockFromPg(start)
	a.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse appointment price %q: %w", price, err)
	}
	return &a, nil
}

func scanClaim(row pgx.Row) (*InsuranceClaim, error) {
	var c InsuranceClaim
	var amount string

	err := row.Scan(
		&c.ID,
		&c.AppointmentID,
		&c.PatientInsuranceID,
		&amount,
		&c.Status,
		&c.Reference,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}

	c.ClaimAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse claim amount %q: %w", amount, err)
	}
	return &c, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	result := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM practitioners
		WHERE id = $1
	`, id)
	return scanPractitioner(row)
}

func (r *PgRepository) GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, created_at, updated_at
		FROM locations
		WHERE id = $1
	`, id)
	return scanLocation(row)
}

func (r *PgRepository) GetServiceTypeByID(ctx context.Context, id uuid.UUID) (*ServiceType, error) {
	var st ServiceType
	var price string

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, price::text
		FROM service_types
		WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.DurationMinutes, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceTypeNotFound
		}
		return nil, err
	}

	st.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse service price %q: %w", price, err)
	}
	return &st, nil
}

func (r *PgRepository) GetPatientInsuranceByID(ctx context.Context, id uuid.UUID) (*PatientInsurance, error) {
	var pi PatientInsurance

	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, provider, policy_number
		FROM patient_insurances
		WHERE id = $1
	`, id).Scan(&pi.ID, &pi.PatientID, &pi.Provider, &pi.PolicyNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientInsuranceNotFound
		}
		return nil, err
	}
	return &pi, nil
}

func (r *PgRepository) ListWindows(ctx context.Context, practitionerID uuid.UUID, locationID *uuid.UUID) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE practitioner_id = $1
		  AND ($2::uuid IS NULL OR location_id = $2)
		ORDER BY weekday, location_id, start_time
	`, practitionerID, locationID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWindow)
}

func (r *PgRepository) ListWindowsForDay(ctx context.Context, practitionerID, locationID uuid.UUID, weekday time.Weekday) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE practitioner_id = $1
		  AND location_id = $2
		  AND weekday = $3
		ORDER BY start_time
	`, practitionerID, locationID, int16(weekday))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWindow)
}

func (r *PgRepository) GetWindowByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) CreateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (id, practitioner_id, location_id, weekday, start_time, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+windowColumns,
		id, w.PractitionerID, w.LocationID, int16(w.Weekday), w.StartTime.pgTime(), w.EndTime.pgTime())

	return scanWindow(row)
}

func (r *PgRepository) UpdateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availability_windows
		SET location_id = $2,
		    weekday = $3,
		    start_time = $4,
		    end_time = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+windowColumns,
		w.ID, w.LocationID, int16(w.Weekday), w.StartTime.pgTime(), w.EndTime.pgTime())

	return scanWindow(row)
}

func (r *PgRepository) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (r *PgRepository) ListActiveAppointmentsForDay(ctx context.Context, practitionerID, locationID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND location_id = $2
		  AND date = $3
		  AND status <> 'cancelled'
		ORDER BY start_time
	`, practitionerID, locationID, DateOf(date))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

// InsertAppointment serializes writers of one (practitioner, location, date)
// with a transaction scoped advisory lock, re-checks for overlaps and inserts.
// The partial unique index on the exact tick backs this up.
func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	date := DateOf(a.Date)
	key := fmt.Sprintf("appointments:%s:%s:%s", a.PractitionerID, a.LocationID, date.Format(time.DateOnly))
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE practitioner_id = $1
			  AND location_id = $2
			  AND date = $3
			  AND status <> 'cancelled'
			  AND start_time < $5
			  AND $4::time::interval < start_time::interval + make_interval(mins => duration_minutes)
		)
	`, a.PractitionerID, a.LocationID, date, a.Time.pgTime(), a.End().pgTime()).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("check overlapping appointments: %w", err)
	}
	if taken {
		return nil, ErrSlotTaken
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, practitioner_id, location_id, service_type_id, date, start_time,
			duration_minutes, status, notes, price, patient_insurance_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'scheduled', $9, $10::numeric, $11, now(), now())
		RETURNING `+appointmentColumns,
		uuid.New(), a.PatientID, a.PractitionerID, a.LocationID, a.ServiceTypeID, date, a.Time.pgTime(),
		a.DurationMinutes, a.Notes, a.Price.String(), a.PatientInsuranceID)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("commit appointment: %w", err)
	}

	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		ORDER BY date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, practitionerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentNotes(ctx context.Context, id uuid.UUID, notes string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET notes = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, notes)

	return scanAppointment(row)
}

func (r *PgRepository) LinkInsuranceClaim(ctx context.Context, appointmentID, claimID uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET insurance_claim_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND insurance_claim_id IS NULL
		RETURNING `+appointmentColumns,
		appointmentID, claimID)

	return scanAppointment(row)
}

func (r *PgRepository) FindUnlinkedInsured(ctx context.Context, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND patient_insurance_id IS NOT NULL
		  AND insurance_claim_id IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) CreateInsuranceClaim(ctx context.Context, c InsuranceClaim) (*InsuranceClaim, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO insurance_claims (id, appointment_id, patient_insurance_id, claim_amount, status, reference, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, now())
		ON CONFLICT (appointment_id) DO UPDATE SET appointment_id = EXCLUDED.appointment_id
		RETURNING id, appointment_id, patient_insurance_id, claim_amount::text, status, reference, created_at
	`, uuid.New(), c.AppointmentID, c.PatientInsuranceID, c.ClaimAmount.String(), c.Status, c.Reference)

	return scanClaim(row)
}

func (r *PgRepository) GetClaimByAppointment(ctx context.Context, appointmentID uuid.UUID) (*InsuranceClaim, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, patient_insurance_id, claim_amount::text, status, reference, created_at
		FROM insurance_claims
		WHERE appointment_id = $1
	`, appointmentID)
	return scanClaim(row)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
