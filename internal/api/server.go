// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/threeeyedemu/emu/internal/api/handlers"
	"github.com/threeeyedemu/emu/internal/api/middleware"
	"github.com/threeeyedemu/emu/internal/config"
	"github.com/threeeyedemu/emu/internal/ratelimit"
	"github.com/threeeyedemu/emu/internal/services/checkout"
	"github.com/threeeyedemu/emu/internal/services/downloads"
)

type Dependencies struct {
	Config    *config.AppConfig
	DB        handlers.Pinger
	Downloads *downloads.Service
	Checkout  *checkout.Service
	Limiters  *ratelimit.Limiters
}

type Server struct {
	deps   *Dependencies
	logger zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		deps:   deps,
		logger: log.With().Str("module", "http").Logger(),
	}
}

// Handler builds the router. Routes are mounted under the configured base URL.
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.logger))
	r.Use(s.corsMiddleware())

	compress, err := httpcompression.DefaultAdapter(httpcompression.MinSize(1024))
	if err != nil {
		return nil, errors.Wrap(err, "could not build compression middleware")
	}
	r.Use(compress)
	r.Use(middleware.Identity)

	health := handlers.NewHealthHandler(s.deps.DB)
	dl := handlers.NewDownloadsHandler(s.deps.Downloads)
	co := handlers.NewCheckoutHandler(s.deps.Checkout)

	apiLimit := middleware.RateLimit(s.deps.Limiters.API, middleware.CallerKey)
	authLimit := middleware.RateLimit(s.deps.Limiters.Auth, middleware.CallerKey)

	routes := func(r chi.Router) {
		health.Routes(r)

		r.Route("/api", func(r chi.Router) {
			r.With(apiLimit).Get("/downloads/{token}", dl.GetDownload)
			// gated by the download limiter inside the service
			r.Post("/downloads/{token}/redeem", dl.Redeem)
			r.With(apiLimit).Get("/apps/{appID}/platforms", dl.Platforms)
			r.With(middleware.RequireUser, apiLimit).Get("/me/downloads", dl.ListMine)
			r.With(middleware.RequireUser, authLimit).Post("/checkout", co.Complete)
			r.With(middleware.RequireUser, authLimit).Post("/admin/apps/{appID}/versions", dl.CreateVersion)
		})
	}

	baseURL := s.baseURL()
	if baseURL == "/" {
		routes(r)
	} else {
		r.Route(strings.TrimSuffix(baseURL, "/"), routes)
	}

	return r, nil
}

func (s *Server) baseURL() string {
	if s.deps.Config == nil || s.deps.Config.Config == nil {
		return "/"
	}
	base := strings.TrimSpace(s.deps.Config.Config.BaseURL)
	if base == "" || base == "/" {
		return "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return base
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	var origins []string
	if s.deps.Config != nil && s.deps.Config.Config != nil {
		origins = s.deps.Config.Config.CORSAllowedOrigins
	}

	// without configured origins any origin may read responses, but never
	// with credentials
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", middleware.UserHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: len(origins) > 0,
		MaxAge:           300,
	}).Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	cfg := s.deps.Config.Config
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Str("baseUrl", s.baseURL()).Msg("Starting API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
