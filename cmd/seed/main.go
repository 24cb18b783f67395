package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ihealth/portal-sync/internal/config"
	"github.com/ihealth/portal-sync/internal/db"
	"github.com/ihealth/portal-sync/internal/directory"
	"github.com/ihealth/portal-sync/internal/portal"
	redisclient "github.com/ihealth/portal-sync/internal/redis"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	logger.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, int32(cfg.PgMaxConns))
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(ctx, pool, 20, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	patientIDs, err := seedPatients(ctx, pool, 200, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	dir := directory.NewPgRepository(pool)
	store := portal.NewRedisStore(rdb)
	locker := redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL)
	svc := portal.NewService(store, dir, locker, cfg, logger)

	if err := seedAppointments(ctx, svc, doctorIDs, patientIDs, 50, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
		"Cardiologie",
		"Dermatologie",
		"Médecine générale",
		"Pédiatrie",
		"Gynécologie",
		"Ophtalmologie",
		"Neurologie",
		"Psychiatrie",
		"ORL",
		"Endocrinologie",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		specialty := specialties[i%len(specialties)]
		city := gofakeit.City()

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, work_location, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, specialty, city)
		if err != nil {
			return nil, fmt.Errorf("insert doctor: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding patients")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		email := gofakeit.Email()

		_, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, email)
		if err != nil {
			return nil, fmt.Errorf("insert patient: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// seedAppointments books pending appointments through the service so that the
// per-actor collections and schedule grids end up consistent, and drops a
// welcome notification into each booked patient's queue.
func seedAppointments(ctx context.Context, svc *portal.Service, doctorIDs, patientIDs []uuid.UUID, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding appointments")

	reasons := []string{
		"Consultation de routine",
		"Suivi de traitement",
		"Renouvellement d'ordonnance",
		"Douleurs persistantes",
		"Bilan annuel",
	}
	times := []string{"08:00", "08:30", "09:00", "09:30", "10:00", "14:00", "14:30", "15:00"}

	booked := 0
	for i := 0; booked < count && i < count*3; i++ {
		doctorID := doctorIDs[gofakeit.Number(0, len(doctorIDs)-1)]
		patientID := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]

		// Next weekday within the coming two weeks.
		date := time.Now().AddDate(0, 0, gofakeit.Number(1, 14))
		for wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday; wd = date.Weekday() {
			date = date.AddDate(0, 0, 1)
		}

		_, err := svc.BookAppointment(ctx, portal.BookingRequest{
			PatientID: patientID,
			DoctorID:  doctorID,
			Date:      date.Format("2006-01-02"),
			Time:      times[gofakeit.Number(0, len(times)-1)],
			Reason:    reasons[gofakeit.Number(0, len(reasons)-1)],
		})
		if err != nil {
			// Collisions on popular slots are expected, just try again.
			continue
		}

		if err := svc.SendWelcomeNotification(ctx, patientID); err != nil {
			logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("welcome notification failed")
		}
		booked++
	}

	logger.Info().Int("booked", booked).Msg("appointments seeded")
	return nil
}
