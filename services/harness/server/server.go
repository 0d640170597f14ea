// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the run history and harness metrics over HTTP.
//
// Endpoints:
//
//	GET /healthz                  - Liveness
//	GET /metrics                  - Prometheus exposition
//	GET /v1/runs?limit=N          - Run summaries, newest first
//	GET /v1/runs/latest           - Most recent run
//	GET /v1/runs/:id              - One run by ID or unique prefix
//	GET /v1/runs/:id/report       - Rendered run (?format=markdown|json|console)
//	GET /v1/diff?old=&new=        - Diff of two runs; defaults to the latest pair
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/jitbench/services/harness/history"
)

// ErrNilStore is returned by New without a history store.
var ErrNilStore = errors.New("history store must not be nil")

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// ServiceName is reported by otelgin spans.
	ServiceName string `yaml:"service_name"`

	// Debug enables gin's debug mode and request logging.
	Debug bool `yaml:"debug"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Metrics serves /metrics. Nil uses the default Prometheus registry.
	Metrics http.Handler `yaml:"-"`

	// Logger receives server logs. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration used by `jitbench serve`.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8089",
		ServiceName:     "jitbench",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server serves the history API.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *slog.Logger
}

// New builds the router and registers all routes.
//
// Description:
//
//	The router carries gin.Recovery and otelgin middleware; gin.Logger is
//	added in debug mode.
//
// Inputs:
//   - store: Run history. Must not be nil.
//   - cfg: Server configuration.
//
// Outputs:
//   - *Server: Ready to Run or to serve through Handler.
//   - error: ErrNilStore.
func New(store *history.Store, cfg Config) (*Server, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "jitbench"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.ServiceName))

	h := NewHandlers(store, logger)
	router.GET("/healthz", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(cfg.Metrics))
	RegisterRoutes(router.Group("/v1"), h)

	return &Server{cfg: cfg, router: router, logger: logger}, nil
}

// Handler returns the router for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting history server", slog.String("address", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down history server")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
