// Package server exposes the admin authentication core over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wispberry-tech/wispy-admin/core"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxBodySize     int64 // bytes
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 15 * time.Second,
		MaxBodySize:     1 << 20, // 1MB
	}
}

// Server is the HTTP server for the portal back-office authentication.
type Server struct {
	cfg        Config
	router     chi.Router
	admin      *core.AdminService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server with all routes and middleware wired.
func New(cfg Config, admin *core.AdminService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		admin:  admin,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}

	// --- Health checks ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- Primary member session ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", func(w http.ResponseWriter, r *http.Request) {
			resp := s.admin.SignInHandler(w, r)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
			resp := s.admin.LogoutHandler(w, r)
			writeJSON(w, resp.StatusCode, resp)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		// Step-up endpoints authenticate themselves
		r.Route("/auth", func(r chi.Router) {
			r.Post("/setup", func(w http.ResponseWriter, r *http.Request) {
				resp := s.admin.AdminSetupHandler(r)
				writeJSON(w, resp.StatusCode, resp)
			})
			r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
				resp := s.admin.AdminLoginHandler(w, r)
				writeJSON(w, resp.StatusCode, resp)
			})
			r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
				resp := s.admin.AdminLogoutHandler(w, r)
				writeJSON(w, resp.StatusCode, resp)
			})
			r.Get("/check", func(w http.ResponseWriter, r *http.Request) {
				resp := s.admin.AdminCheckHandler(r)
				writeJSON(w, resp.StatusCode, resp)
			})
		})

		// Back-office endpoints require an authorized admin
		r.Group(func(r chi.Router) {
			r.Use(s.admin.RequireAdmin)

			r.Get("/activities", func(w http.ResponseWriter, r *http.Request) {
				resp := s.admin.ListActivitiesHandler(r)
				writeJSON(w, resp.StatusCode, resp)
			})
			r.Get("/agents", func(w http.ResponseWriter, r *http.Request) {
				resp := s.admin.ListAgentsHandler(r)
				writeJSON(w, resp.StatusCode, resp)
			})
			r.Patch("/agents/{agentID}", func(w http.ResponseWriter, r *http.Request) {
				resp := s.admin.UpdateAgentAccessHandler(r, chi.URLParam(r, "agentID"))
				writeJSON(w, resp.StatusCode, resp)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is a readiness probe. Returns 503 when storage is unreachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.admin.Ping(ctx); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
