// Package frontend serves the REST and WebSocket API over the
// orchestrator.
package frontend

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-org/parley/internal/config"
	"github.com/parley-org/parley/internal/eventbus"
	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/orchestrator"
)

// Server is the HTTP front door: REST under /api/v1, the event stream
// on /api/v1/events and prometheus on /metrics.
type Server struct {
	cfg        *config.Config
	orc        *orchestrator.Orchestrator
	bus        *eventbus.Bus
	registry   *prometheus.Registry
	httpServer *http.Server
}

// NewServer wires the server. registry may be nil to disable /metrics.
func NewServer(cfg *config.Config, orc *orchestrator.Orchestrator, bus *eventbus.Bus, registry *prometheus.Registry) *Server {
	return &Server{cfg: cfg, orc: orc, bus: bus, registry: registry}
}

// Handler builds the router; split out so tests can drive it with
// httptest.
func (srv *Server) Handler() http.Handler {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             srv.cfg.Logging.Format == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(withRecoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/models", srv.handleListModels)
		r.Get("/events", srv.handleEvents)

		r.Route("/discussions", func(r chi.Router) {
			r.Post("/", srv.handleCreate)
			r.Get("/", srv.handleList)

			r.Post("/storage/backup", srv.handleBackup)
			r.Post("/storage/cleanup", srv.handleCleanup)
			r.Get("/storage/info", srv.handleStorageInfo)

			r.Get("/performance/config", srv.handleGetPerformance)
			r.Put("/performance/config", srv.handlePutPerformance)
			r.Post("/performance/optimize", srv.handleOptimize)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", srv.handleGet)
				r.Delete("/", srv.handleDelete)
				r.Post("/start", srv.handleStart)
				r.Post("/stop", srv.handleStop)
				r.Get("/messages", srv.handleMessages)
				r.Get("/summary", srv.handleSummary)
				r.Get("/export", srv.handleExport)
			})
		})
	})

	if srv.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Serve runs the listener until ctx is cancelled or a shutdown signal
// arrives.
func (srv *Server) Serve(ctx context.Context) error {
	addr := srv.cfg.Server.Addr()
	srv.httpServer = &http.Server{
		Handler:           srv.Handler(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Server is starting", "addr", addr)
		if err := srv.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Failed to start server", "err", err)
		}
	}()

	srv.gracefulShutdown(ctx)
	return nil
}

// Shutdown stops the listener.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer != nil {
		logger.Info(ctx, "Server is shutting down", "addr", srv.httpServer.Addr)
		return srv.httpServer.Shutdown(ctx)
	}
	return nil
}

func (srv *Server) gracefulShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Context done, shutting down server")
	case <-quit:
		logger.Info(ctx, "Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shutdown server", "err", err)
	}
	logger.Info(ctx, "Server shutdown complete")
}

// withRecoverer is adapted from chi's recoverer middleware, logging
// through our logger instead of chi's.
func withRecoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logger.Error(r.Context(), "Panic occurred", "err", rvr, "st", string(debug.Stack()))
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
