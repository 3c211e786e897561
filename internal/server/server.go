package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meridianlabs/backoffice/internal/handler"
	"github.com/meridianlabs/backoffice/internal/metrics"
	"github.com/meridianlabs/backoffice/internal/openapi"
	"github.com/meridianlabs/backoffice/internal/server/middleware"
	"github.com/meridianlabs/backoffice/internal/service"
	"github.com/meridianlabs/backoffice/internal/store"
)

// readyzTimeout bounds the store ping behind /readyz.
const readyzTimeout = 2 * time.Second

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	Headers         middleware.Headers
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
		Headers:         middleware.DefaultHeaders(),
	}
}

// Server is the HTTP front of the back office auth subsystem. It owns the
// chi router; the store and services are owned by the caller.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. m may be nil, in which case /metrics is a 404.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, m *metrics.Metrics, logger *slog.Logger) *Server {
	if cfg.Headers.Session == "" || cfg.Headers.APIKey == "" {
		def := middleware.DefaultHeaders()
		if cfg.Headers.Session == "" {
			cfg.Headers.Session = def.Session
		}
		if cfg.Headers.APIKey == "" {
			cfg.Headers.APIKey = def.APIKey
		}
	}
	s := &Server{
		cfg:     cfg,
		store:   st,
		authSvc: authSvc,
		metrics: m,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics(s.metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With",
			s.cfg.Headers.Session, s.cfg.Headers.APIKey},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	r.Use(chimw.Compress(5))

	// --- Probes and documents (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(openapi.Options{
		Version:       s.cfg.Version,
		SessionHeader: s.cfg.Headers.Session,
		APIKeyHeader:  s.cfg.Headers.APIKey,
	}).ServeSpec)

	authH := handler.NewAuthHandler(s.authSvc, s.cfg.Headers.Session, s.logger)
	accountH := handler.NewAccountHandler(s.authSvc, s.logger)
	sessionH := handler.NewSessionHandler(s.authSvc, s.logger)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		// Login is unauthenticated; logout authenticates by the token it destroys.
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/logout", authH.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc, s.cfg.Headers, s.logger))

			r.Get("/auth/me", authH.Me)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSuperAdmin())

				// Account management
				r.Get("/accounts", accountH.ListAccounts)
				r.Post("/accounts", accountH.CreateAccount)
				r.Get("/accounts/{id}", accountH.GetAccount)
				r.Patch("/accounts/{id}", accountH.UpdateAccount)
				r.Delete("/accounts/{id}", accountH.DeactivateAccount)
				r.Post("/accounts/{id}/api-key", accountH.RotateAPIKey)

				// Session management
				r.Get("/accounts/{id}/sessions", sessionH.ListSessions)
				r.Delete("/accounts/{id}/sessions", sessionH.RevokeSessions)
				r.Post("/sessions/prune", sessionH.PruneSessions)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store
// answers a ping, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		checks["store"] = "unreachable"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests. Closing the store is left to the caller.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
