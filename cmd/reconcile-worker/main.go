package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ihealth/portal-sync/internal/config"
	"github.com/ihealth/portal-sync/internal/db"
	"github.com/ihealth/portal-sync/internal/directory"
	"github.com/ihealth/portal-sync/internal/portal"
	redisclient "github.com/ihealth/portal-sync/internal/redis"
)

// The reconcile worker is the safety net behind the patient dashboards'
// on-demand sync: it sweeps the global event log on an interval so that every
// patient collection converges even if its owner never polls.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "reconcile-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("reconcile-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PgMaxConns))
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	dir := directory.NewPgRepository(pgPool)
	store := portal.NewRedisStore(rdb)
	locker := redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL)
	svc := portal.NewService(store, dir, locker, cfg, logger)

	// Run once at startup
	runOnce(rootCtx, svc, dir, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, dir, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *portal.Service, dir directory.Repository, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	patientIDs, err := dir.ListPatientIDs(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("list patients error")
		return
	}

	total := 0
	for _, id := range patientIDs {
		applied, err := svc.Reconcile(runCtx, id)
		if err != nil {
			logger.Error().Err(err).Str("patient_id", id.String()).Msg("reconcile error")
			continue
		}
		total += applied
	}

	logger.Info().
		Int("patients", len(patientIDs)).
		Int("events_applied", total).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
}
