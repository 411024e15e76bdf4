package ingest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/famloop/trackd/internal/api/middleware"
	"github.com/famloop/trackd/internal/api/models"
	"github.com/famloop/trackd/internal/api/response"
)

// RouterConfig holds configuration for the ingest router.
type RouterConfig struct {
	Version     string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Handler     *Handler
}

// NewRouter creates the ingest server's chi router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "famloop-ingest"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.ContentTypeJSON)

	ingestRateLimit := middleware.RateLimitByIP(middleware.IngestRateLimit) // 120 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Get("/ops/health", func(w http.ResponseWriter, req *http.Request) {
			response.JSON(w, req, http.StatusOK, models.Health{
				Status: models.HealthStatusOK,
				Time:   models.Timestamp(time.Now()),
				Details: map[string]interface{}{
					"version": cfg.Version,
				},
			})
		})

		r.Route("/locations", func(r chi.Router) {
			r.Use(ingestRateLimit)
			r.With(cfg.Handler.RequireDeviceToken).Post("/batch", cfg.Handler.UploadBatch)
			r.With(cfg.Handler.RequireDeviceToken).Get("/latest", cfg.Handler.LatestLocations)
			// Legacy single-fix path authenticates with the session cookie
			// inside the handler.
			r.Post("/", cfg.Handler.UploadLegacy)
		})
	})

	return r
}
