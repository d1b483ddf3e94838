// Package api provides the inventoryd HTTP API: snapshot reads, refresh
// triggers, job status, and the Hyper-V power passthrough.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/virtops/inventoryd/adapters"
	"github.com/virtops/inventoryd/config"
	"github.com/virtops/inventoryd/database"
	"github.com/virtops/inventoryd/middleware"
	"github.com/virtops/inventoryd/models"
)

// Server is the inventoryd API server.
type Server struct {
	cfg      *Config
	router   *mux.Router
	handlers *Handlers
	auth     *middleware.Authenticator
}

// Config contains server wiring.
type Config struct {
	Port     int
	Debug    bool
	App      *config.Config
	Orch     Orchestrator
	Registry *adapters.Registry
	Database database.Connection
}

// NewServer creates the API server and configures its routes.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config is required")
	}

	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		handlers: NewHandlers(cfg.Orch, cfg.App, cfg.Registry),
		auth:     middleware.NewAuthenticator(cfg.App.Auth),
	}
	s.setupRoutes()
	return s, nil
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.CORS)
	if s.cfg.Debug {
		s.router.Use(middleware.RequestLogging)
	}

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/providers", s.requireAnyToken(s.handlers.ListProviders)).Methods("GET")
	api.HandleFunc("/hyperv/power", s.requireProvider(s.handlers.PowerAction, models.ProviderHyperV)).Methods("POST")

	api.HandleFunc("/{provider}/{scope}", s.requireScopedAuth(s.handlers.GetSnapshot)).Methods("GET")
	api.HandleFunc("/{provider}/{scope}/refresh", s.requireScopedAuth(s.handlers.TriggerRefresh)).Methods("POST")
	api.HandleFunc("/{provider}/{scope}/jobs/{job_id}", s.requireScopedAuth(s.handlers.GetJob)).Methods("GET")

	log.WithField("auth_enabled", s.auth.Enabled()).Info("📋 Inventory API routes configured")
}

// requireScopedAuth enforces that the bearer token may view the {provider}
// in the path.
func (s *Server) requireScopedAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next(w, r)
			return
		}

		provider, err := models.ParseProvider(mux.Vars(r)["provider"])
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		token := middleware.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}
		if !s.auth.CanView(token, provider) {
			writeError(w, http.StatusForbidden, "token not authorized for provider")
			return
		}
		next(w, r)
	}
}

// requireProvider enforces a grant for a fixed provider.
func (s *Server) requireProvider(next http.HandlerFunc, provider models.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next(w, r)
			return
		}
		token := middleware.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}
		if !s.auth.CanView(token, provider) {
			writeError(w, http.StatusForbidden, "token not authorized for provider")
			return
		}
		next(w, r)
	}
}

// requireAnyToken accepts any known token.
func (s *Server) requireAnyToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next(w, r)
			return
		}
		token := middleware.BearerToken(r.Header.Get("Authorization"))
		if token == "" || !s.auth.ValidateToken(token) {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next(w, r)
	}
}

// handleHealth reports service liveness and persistence status.
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} object
// @Router /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "memory"
	if s.cfg.Database != nil {
		dbStatus = s.cfg.Database.GetStatus()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "inventoryd",
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  dbStatus,
	})
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("🚀 Inventory API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("API server stopped")
	return nil
}
