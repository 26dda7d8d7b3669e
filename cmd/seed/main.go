package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	hospitals, err := seedHospitals(ctx, pool, faker, 10)
	if err != nil {
		log.Fatalf("seed hospitals: %v", err)
	}
	if err := seedDoctors(ctx, pool, faker, hospitals, 100); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(ctx, pool, faker, 9000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d hospitals", count)

	ids := make([]uuid.UUID, 0, count)
	batch := &pgx.Batch{}
	for i := 0; i < count; i++ {
		id := uuid.New()
		ids = append(ids, id)
		batch.Queue(`
			INSERT INTO hospitals (id, name, address, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, faker.Company()+" Hospital", faker.Address().Address)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}

	log.Println("hospitals seeded")
	return ids, nil
}

// seedDoctors gives every doctor one hospital, weekday hours with a lunch
// break, and a couple of days off in the coming month.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, hospitals []uuid.UUID, count int) error {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := appointment.CivilDate(time.Now())

	for i := 0; i < count; i++ {
		id := uuid.New()
		hospitalID := hospitals[faker.Number(0, len(hospitals)-1)]
		spec := specialties[faker.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, "Dr. "+faker.Name(), spec)
		if err != nil {
			return err
		}

		start := appointment.NewClock(faker.Number(7, 10), 0)
		end := start + appointment.NewClock(8, 0)
		breakStart := start + appointment.NewClock(4, 0)
		for wd := time.Monday; wd <= time.Friday; wd++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO working_hours (doctor_id, hospital_id, weekday, start_min, end_min, break_start_min, break_end_min)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, id, hospitalID, int(wd), int(start), int(end), int(breakStart), int(breakStart+60))
			if err != nil {
				return err
			}
		}

		for j := 0; j < 2; j++ {
			off := today.AddDate(0, 0, faker.Number(1, 30))
			_, err := tx.Exec(ctx, `
				INSERT INTO time_off (doctor_id, hospital_id, date, reason)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING
			`, id, hospitalID, off, faker.RandomString([]string{"vacation", "conference", "training"}))
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), faker.Name(), faker.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
