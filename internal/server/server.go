// Package server exposes the session engine over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kilnworks/kiln/internal/event"
	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/internal/session"
	"github.com/kilnworks/kiln/internal/tool"
	"github.com/kilnworks/kiln/pkg/types"
)

// Config holds server configuration.
type Config struct {
	Port         int
	Directory    string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP server.
type Server struct {
	config      *Config
	router      *chi.Mux
	httpSrv     *http.Server
	appConfig   *types.Config
	appConfigMu sync.RWMutex
	sessions    *session.Service
	providers   *provider.Registry
	bus         *event.Bus
	tools       map[string]tool.Tool
	customTools map[string]tool.Tool
}

// New creates a new Server instance.
func New(cfg *Config, appConfig *types.Config, sessions *session.Service, providers *provider.Registry, bus *event.Bus, tools, customTools map[string]tool.Tool) *Server {
	s := &Server{
		config:      cfg,
		router:      chi.NewRouter(),
		appConfig:   appConfig,
		sessions:    sessions,
		providers:   providers,
		bus:         bus,
		tools:       tools,
		customTools: customTools,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// SetAppConfig swaps the application config after a hot reload.
func (s *Server) SetAppConfig(cfg *types.Config) {
	s.appConfigMu.Lock()
	s.appConfig = cfg
	s.appConfigMu.Unlock()
}

// defaultModel returns the configured default model reference.
func (s *Server) defaultModel() string {
	s.appConfigMu.RLock()
	defer s.appConfigMu.RUnlock()
	if s.appConfig == nil {
		return ""
	}
	return s.appConfig.Model
}
