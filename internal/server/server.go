// Package server exposes the actor host over HTTP: a WebSocket endpoint per
// actor name, health, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/actor"
	"github.com/burrowlabs/burrow/internal/auth"
	"github.com/burrowlabs/burrow/internal/config"
	"github.com/burrowlabs/burrow/internal/metrics"
	"github.com/burrowlabs/burrow/internal/requestctx"
)

type Server struct {
	cfg        *config.Config
	host       *actor.Host
	tokens     *auth.TokenService
	httpServer *http.Server
}

// New builds the server around an actor host.
func New(cfg *config.Config, host *actor.Host) *Server {
	srv := &Server{
		cfg:  cfg,
		host: host,
	}

	if cfg.Auth.Enabled {
		srv.tokens = auth.NewTokenService(cfg.Auth)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(annotateRequests)

	r.Get("/healthz", srv.health)
	r.Get("/actors/{name}/ws", srv.handleWebSocket)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, metrics.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

// Handler exposes the routed handler, mainly for tests against an
// httptest listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener is closed. A clean shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Msg("Starting server")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, then hibernates every live actor.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown interrupted")
	}

	return s.host.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// annotateRequests copies the router's request ID into the request context
// so downstream handlers and log lines can reference it without the chi
// middleware types.
func annotateRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestctx.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
