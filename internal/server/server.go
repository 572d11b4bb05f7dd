// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tether-dev/tether/internal/schedule"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr      string
	CORSOrigins     []string
	APIToken        string
	TrustedProxies  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       RateLimitConfig
	Version         string
}

// Deps are the components the API serves.
type Deps struct {
	Backend Backend
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router  chi.Router
	api     huma.API
	cfg     Config
	backend Backend
	group   *schedule.Group
	limiter *visitors
}

// New creates a Server with chi router, huma API, ops routes, and CORS.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, tetherr.New(tetherr.CodeServerConfigInvalid, "listen address is required")
	}
	if deps.Backend == nil {
		return nil, tetherr.New(tetherr.CodeServerConfigInvalid, "backend is required")
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	realIP := middleware.RealIP
	if len(cfg.TrustedProxies) > 0 {
		trusted, err := parseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return nil, err
		}
		realIP = trustedProxyRealIP(trusted)
	}

	srv := &Server{
		cfg:     cfg,
		backend: deps.Backend,
		group:   schedule.NewGroup("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(realIP)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(cfg.CORSOrigins))
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		srv.limiter = newVisitors(cfg.RateLimit)
		srv.group.Every("rate-limit-cleanup", visitorCleanupInterval, func(context.Context) {
			srv.limiter.cleanup(time.Now())
		})
		r.Use(srv.limiter.middleware)
	}

	humaConfig := huma.DefaultConfig("Tether", cfg.Version)
	humaConfig.Info.Description = "Operations API for the CDP session gateway"
	api := humachi.New(r, humaConfig)

	srv.router = r
	srv.api = api

	srv.registerRoutes()
	srv.registerEventStream()
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return srv, nil
}

// Handler is the routed handler, middleware included.
func (s *Server) Handler() http.Handler { return s.router }

// API exposes the huma API, mainly for OpenAPI generation.
func (s *Server) API() huma.API { return s.api }

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return tetherr.Wrapf(err, tetherr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		// Event streams stay open, so the write timeout is opt-in.
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	slog.Info("ops server listening", "addr", ln.Addr().String())

	select {
	case err := <-served:
		return serveError(err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return tetherr.Wrap(err, tetherr.CodeServerShutdownFailure, "shutting down")
	}
	return serveError(<-served)
}

func serveError(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return tetherr.Wrap(err, tetherr.CodeServerStartFailure, "serving")
}

// Close stops background tasks. It is safe to call more than once.
func (s *Server) Close() {
	s.group.Stop()
}

// corsMiddleware allows browser dashboards on origins to call the API.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
