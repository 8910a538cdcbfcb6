package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docpulse/internal/aggregation"
	"github.com/nikhilbhutani/docpulse/internal/api/handlers"
	"github.com/nikhilbhutani/docpulse/internal/api/middleware"
	"github.com/nikhilbhutani/docpulse/internal/config"
	"github.com/nikhilbhutani/docpulse/internal/ingestion"
	"github.com/nikhilbhutani/docpulse/internal/storage"
	"github.com/nikhilbhutani/docpulse/internal/store"
)

type Deps struct {
	Config    *config.Config
	Ingestion *ingestion.Service
	Dashboard *aggregation.Service
	Records   store.Store
	Files     storage.Storage
	Redis     *redis.Client
	Queue     handlers.Enqueuer // nil disables reprocessing
	Realtime  http.Handler      // nil when /ws has its own listener
	Logger    *slog.Logger
}

type Router struct {
	mux  *chi.Mux
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Router{mux: chi.NewRouter(), deps: deps}
}

// Setup mounts every route. ctx bounds the rate limiter's cleanup loop.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux
	cfg := rt.deps.Config

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	health := handlers.NewHealthHandler(rt.deps.Records, rt.deps.Redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	if rt.deps.Realtime != nil {
		r.Handle("/ws", rt.deps.Realtime)
	}

	docH := handlers.NewDocumentHandler(rt.deps.Ingestion, rt.deps.Dashboard, rt.deps.Files,
		rt.deps.Queue, cfg.Server.MaxUploadMB, cfg.Server.IngestTimeout, rt.deps.Logger)
	dashH := handlers.NewDashboardHandler(rt.deps.Dashboard, rt.deps.Logger)

	r.Route("/api", func(r chi.Router) {
		if cfg.Server.RateLimitRPS > 0 {
			rl := middleware.NewRateLimiter(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
			r.Use(rl.Limit)
		}

		r.Route("/documents", func(r chi.Router) {
			r.Post("/upload", docH.Upload)
			r.Get("/recent", docH.Recent)
			r.Get("/recent/export", docH.Export)
			r.Post("/reprocess", docH.Reprocess)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/stats", dashH.Stats)
			r.Get("/accuracy", dashH.Accuracy)
			r.Get("/extracted-metrics", dashH.ExtractedMetrics)
			r.Get("/classifications", dashH.Classifications)
		})
	})

	return r
}

// RealtimeHandler serves only the websocket endpoint, for a dedicated
// realtime listener.
func RealtimeHandler(ws http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/healthz", handlers.NewHealthHandler(nil, nil).Healthz)
	r.Handle("/ws", ws)
	return r
}
