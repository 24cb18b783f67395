package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ihealth/portal-sync/internal/directory"
	"github.com/ihealth/portal-sync/internal/portal"
)

type RouterConfig struct {
	Service   *portal.Service
	Directory directory.Repository
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	Env       string
	Version   string
	Logger    zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Everything else requires a bearer token from the identity service.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))

		r.Get("/me/appointments", listMyAppointmentsHandler(cfg.Service))
		r.Get("/me/notifications", listMyNotificationsHandler(cfg.Service))
		r.Get("/me/notifications/unread-count", unreadCountHandler(cfg.Service))
		r.Post("/me/notifications/{id}/read", markNotificationReadHandler(cfg.Service))
		r.Post("/me/notifications/read-all", markAllNotificationsReadHandler(cfg.Service))
		r.Post("/me/sync", syncHandler(cfg.Service))

		r.Get("/doctors", listDoctorsHandler(cfg.Directory))
		r.Get("/doctors/{id}/schedule", doctorScheduleHandler(cfg.Service))
	})

	return r
}
