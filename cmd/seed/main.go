package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/appointment"
	"github.com/hackgods/practice-booking/internal/config"
	"github.com/hackgods/practice-booking/internal/db"
	"github.com/hackgods/practice-booking/internal/logger"
)

const (
	practitionerCount = 100
	locationCount     = 12
	patientCount      = 9000
	batchSize         = 500
)

type serviceTypeSeed struct {
	name     string
	duration int
	price    string
}

var serviceTypes = []serviceTypeSeed{
	{"Initial consultation", 60, "120.00"},
	{"Follow-up", 30, "65.00"},
	{"Physiotherapy session", 45, "85.50"},
	{"Vaccination", 15, "35.00"},
	{"Annual check-up", 90, "180.00"},
	{"Telehealth review", 30, "55.00"},
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Physiotherapy",
	"ENT",
}

var insurers = []string{"Medibank", "Bupa", "HCF", "nib", "AHM", "Allianz Care"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns:        int32(cfg.PGMaxConns),
		MinConns:        int32(cfg.PGMinConns),
		ApplicationName: "seed",
	})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, log).Up(context.Background()); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(0)
	s := &seeder{pool: pool, faker: faker, log: log}
	bg := context.Background()

	practitioners, err := s.seedPractitioners(bg, practitionerCount)
	if err != nil {
		log.Fatal("seed practitioners", zap.Error(err))
	}
	locations, err := s.seedLocations(bg, locationCount)
	if err != nil {
		log.Fatal("seed locations", zap.Error(err))
	}
	if err := s.seedServiceTypes(bg); err != nil {
		log.Fatal("seed service types", zap.Error(err))
	}
	if err := s.seedWindows(bg, practitioners, locations, cfg.SlotGranularity); err != nil {
		log.Fatal("seed availability windows", zap.Error(err))
	}
	if err := s.seedPatients(bg, patientCount); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

type seeder struct {
	pool  *pgxpool.Pool
	faker *gofakeit.Faker
	log   *zap.Logger
}

func (s *seeder) seedPractitioners(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.log.Info("seeding practitioners", zap.Int("count", count))

	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			spec := specialties[s.faker.Number(0, len(specialties)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO practitioners (id, name, specialty, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, "Dr. "+s.faker.Name(), spec)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("practitioners seeded")
	return ids, nil
}

func (s *seeder) seedLocations(ctx context.Context, count int) ([]uuid.UUID, error) {
	s.log.Info("seeding locations", zap.Int("count", count))

	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			city := s.faker.City()
			name := fmt.Sprintf("%s Health Clinic", city)
			address := fmt.Sprintf("%s, %s", s.faker.Street(), city)

			_, err := tx.Exec(ctx, `
				INSERT INTO locations (id, name, address, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, address)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("locations seeded")
	return ids, nil
}

func (s *seeder) seedServiceTypes(ctx context.Context) error {
	s.log.Info("seeding service types", zap.Int("count", len(serviceTypes)))

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, st := range serviceTypes {
			price, err := decimal.NewFromString(st.price)
			if err != nil {
				return fmt.Errorf("service type %q: %w", st.name, err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO service_types (id, name, duration_minutes, price)
				VALUES ($1, $2, $3, $4::numeric)
			`, uuid.New(), st.name, st.duration, price.StringFixed(2))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// seedWindows gives every practitioner a weekday schedule at one or two
// locations. Window bounds are multiples of the granularity so every tick
// lies on the booking grid.
func (s *seeder) seedWindows(ctx context.Context, practitioners, locations []uuid.UUID, granularity time.Duration) error {
	s.log.Info("seeding availability windows", zap.Int("practitioners", len(practitioners)))

	step := int(granularity / time.Minute)
	snap := func(c appointment.Clock) appointment.Clock {
		return c - c%appointment.Clock(step)
	}

	total := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, practitionerID := range practitioners {
			sites := []uuid.UUID{locations[s.faker.Number(0, len(locations)-1)]}
			if s.faker.Bool() {
				second := locations[s.faker.Number(0, len(locations)-1)]
				if second != sites[0] {
					sites = append(sites, second)
				}
			}

			for day := time.Monday; day <= time.Friday; day++ {
				locationID := sites[int(day)%len(sites)]
				start := snap(appointment.NewClock(s.faker.Number(7, 10), s.faker.Number(0, 59)))
				end := snap(appointment.NewClock(s.faker.Number(14, 18), s.faker.Number(0, 59)))

				_, err := tx.Exec(ctx, `
					INSERT INTO availability_windows
						(id, practitioner_id, location_id, weekday, start_time, end_time, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5::time, $6::time, now(), now())
				`, uuid.New(), practitionerID, locationID, int16(day), start.String(), end.String())
				if err != nil {
					return err
				}
				total++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("availability windows seeded", zap.Int("count", total))
	return nil
}

func (s *seeder) seedPatients(ctx context.Context, count int) error {
	s.log.Info("seeding patients", zap.Int("count", count))

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				id := uuid.New()

				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, name, email, created_at, updated_at)
					VALUES ($1, $2, $3, now(), now())
				`, id, s.faker.Name(), s.faker.Email())
				if err != nil {
					return err
				}

				// roughly two thirds of patients carry a policy
				if s.faker.Number(1, 3) == 1 {
					continue
				}
				_, err = tx.Exec(ctx, `
					INSERT INTO patient_insurances (id, patient_id, provider, policy_number)
					VALUES ($1, $2, $3, $4)
				`, uuid.New(), id, insurers[s.faker.Number(0, len(insurers)-1)], s.faker.Numerify("POL-#########"))
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	s.log.Info("patients seeded")
	return nil
}
