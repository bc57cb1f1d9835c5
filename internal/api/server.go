package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/config"
)

// NewRouter wires the routes. Worker callbacks and the cron trigger sit
// behind their own shared secrets; the create endpoint is rate limited.
func NewRouter(cfg config.ServerConfig, h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.With(rateLimit(cfg.CreateRatePerMin)).Post("/", h.CreateRun)
			r.Get("/", h.ListRuns)
			r.Post("/stop-all", h.StopAllRuns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRun)
				r.Delete("/", h.DeleteRun)
				r.Post("/start", h.StartRun)
				r.Post("/stop", h.StopRun)
				r.Get("/leads", h.ListLeads)
				r.Get("/export", h.ExportRun)

				r.Group(func(r chi.Router) {
					r.Use(requireSecret("worker", cfg.WorkerSecret))
					r.Post("/leads", h.IngestLeads)
					r.Post("/complete", h.CompleteRun)
					r.Post("/fail", h.FailRun)
				})
			})
		})

		r.Patch("/leads/{id}", h.UpdateLead)

		r.With(requireSecret("cron", cfg.CronSecret)).Get("/cron/process", h.ProcessQueue)
	})

	return r
}

// Server is the HTTP server for the API.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a server listening on cfg.Port.
func NewServer(cfg config.ServerConfig, h *Handlers) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewRouter(cfg, h),
			ReadHeaderTimeout: 10 * time.Second,
			// The cron drain can run for the whole poller budget.
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return eris.Wrap(err, "api: listen")
	case <-ctx.Done():
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return eris.Wrap(s.httpServer.Shutdown(shutdownCtx), "api: shutdown")
	}
}
