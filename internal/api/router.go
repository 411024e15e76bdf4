// Package api provides the local control HTTP API for the trackd agent.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/api/handler"
	"github.com/famloop/trackd/internal/api/middleware"
	"github.com/famloop/trackd/internal/queue"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Tracker     handler.Tracker
	Queue       queue.Repository
	Uploads     handler.UploadStatus
}

// NewRouter creates a new chi router with all control API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "trackd"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime)
	trackingHandler := handler.NewTrackingHandler(cfg.Tracker, cfg.Queue, cfg.Uploads, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 60 req/min
	wakeRateLimit := middleware.RateLimitByIP(middleware.WakeRateLimit)         // 10 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.With(standardRateLimit).Get("/status", trackingHandler.Status)
		})

		r.Route("/tracking", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Post("/start", trackingHandler.Start)
			r.Post("/stop", trackingHandler.Stop)
			// Wake forces burst sampling, so it gets its own tighter limit.
			r.With(wakeRateLimit).Post("/wake", trackingHandler.Wake)
		})
	})

	return r
}
