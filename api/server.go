/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     slog request logging (method, route, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/workspaces/{ws}/*  Workspace-scoped reads and edits
  /api/promotions/*       Workspace promotion and resume
  /api/change-log         Audit trail
  /api/scenarios/*        Demo scenarios (dev only)
  /metrics                Prometheus scrape endpoint
  /healthz                Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *slog.Logger
	Metrics        *Metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/workspaces/{ws}", func(r chi.Router) {
			r.Route("/line-items", func(r chi.Router) {
				r.Get("/", h.ListLineItems)
				r.Post("/", h.CreateLineItem)
				r.Put("/{id}", h.UpdateLineItem)
				r.Delete("/{id}", h.DeleteLineItem)
			})

			r.Get("/parameters", h.GetParameters)
			r.Put("/parameters", h.UpdateParameters)

			r.Route("/distance-days", func(r chi.Router) {
				r.Get("/", h.ListDistanceDays)
				r.Post("/recover", h.RecoverDistances)
				r.Put("/{day}", h.SetDistance)
				r.Delete("/{day}", h.DeleteDistanceDay)
			})
			r.Put("/distance-total", h.SetTotalDistance)

			r.Post("/recalculate", h.Recalculate)
			r.Get("/summary", h.GetSummary)
		})

		// Promotion routes
		r.Route("/promotions", func(r chi.Router) {
			r.Post("/", h.Promote)
			r.Get("/failed", h.ListFailedPromotions)
			r.Post("/{run}/resume", h.ResumePromotion)
		})

		r.Get("/change-log", h.ListChangeLog)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs each request once it has been served.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			}
			if actor := r.Header.Get("X-Actor"); actor != "" {
				attrs = append(attrs, slog.String("actor", actor))
			}

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http.request", attrs...)
		})
	}
}
