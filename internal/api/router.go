package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/vidfetch/internal/api/handler"
	mw "github.com/iconidentify/vidfetch/internal/api/middleware"
	"github.com/iconidentify/vidfetch/internal/config"
)

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(
	mediaHandler *handler.MediaHandler,
	statsHandler *handler.StatsHandler,
	healthHandler *handler.HealthHandler,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(mw.CORS(cfg.Server.CORSOrigins))

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	r.Group(func(r chi.Router) {
		r.Use(mw.APIKeyAuth(cfg.Server.APIKey))

		r.Get("/info", mediaHandler.Info)
		r.Get("/video-info", mediaHandler.Info)
		r.Get("/formats", mediaHandler.Formats)
		r.Get("/available-formats", mediaHandler.Formats)

		r.Post("/increment-download", statsHandler.IncrementDownload)
		r.Get("/stats", statsHandler.Stats)
		r.Get("/system", healthHandler.System)

		r.Group(func(r chi.Router) {
			if rps := cfg.RateLimit.RequestsPerSecond; rps > 0 {
				r.Use(mw.NewRateLimiter(rps, cfg.RateLimit.Burst).Handler)
			}
			r.Post("/download", mediaHandler.Download)
			r.Post("/download/blob", mediaHandler.DownloadBlob)
		})
	})

	return r
}
