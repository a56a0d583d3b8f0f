package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/admin"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/booking"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/schedule"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/user"
)

type RouterConfig struct {
	Booking *booking.Service
	Admin   *admin.Service
	Index   *availability.Index
	Users   user.Repository
	Shop    schedule.ShopInfo
	Hub     *Hub
	Health  *HealthHandler
	Log     zerolog.Logger

	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Hub != nil {
		r.Get("/ws/availability", cfg.Hub.ServeWS)
	}

	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r.Route("/api", func(r chi.Router) {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))

		r.Get("/shop", shopHandler(cfg.Shop))
		r.Get("/reasons", reasonsHandler())
		r.Get("/slots", slotsHandler(cfg.Booking))
		r.Get("/slots/{date}/{time}", slotStatusHandler(cfg.Index))
		r.Get("/calendar", calendarHandler(cfg.Index))

		r.Group(func(r chi.Router) {
			r.Use(ActorMiddleware(cfg.Users))

			r.Get("/appointments", myAppointmentsHandler(cfg.Booking))
			r.With(limiter.Limit).Post("/appointments", bookAppointmentHandler(cfg.Booking))
			r.Post("/appointments/{id}/cancel", clientCancelHandler(cfg.Booking))
			r.Post("/appointments/{id}/accept", acceptRescheduleHandler(cfg.Booking))

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireEmployee)

				r.Get("/appointments", adminListHandler(cfg.Admin))
				r.Get("/appointments/export", adminExportHandler(cfg.Admin))
				r.Get("/slots/{date}/{time}", adminInspectHandler(cfg.Admin))
				r.With(limiter.Limit).Post("/blocks", blockSlotHandler(cfg.Admin))
				r.Post("/appointments/{id}/cancel", adminCancelHandler(cfg.Admin))
				r.Post("/appointments/{id}/unblock", unblockHandler(cfg.Admin))
				r.Post("/appointments/{id}/reschedule", rescheduleHandler(cfg.Admin))
			})
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", UserIDHeader, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
	}).Handler(r)
}
