package server

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/registry"
	"github.com/burrowlabs/burrow/internal/requestctx"
)

// handleWebSocket upgrades a client connection and hands it to the actor
// instance for the name in the path. A `connection_id` query parameter
// reattaches a hibernated connection's persisted envelope; without one a
// fresh identity is minted.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "missing actor name", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	readOnly := false
	if s.tokens != nil {
		grant, err := s.tokens.Verify(r.URL.Query().Get("token"), name)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		readOnly = grant.ReadOnly
		ctx = requestctx.WithGrant(ctx, grant)
	}

	inst, err := s.host.Get(ctx, name)
	if err != nil {
		log.Error().Err(err).Str("actor", name).Msg("Failed to load actor instance")
		http.Error(w, "actor unavailable", http.StatusServiceUnavailable)
		return
	}

	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: origins,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to accept WebSocket connection")
		return
	}

	conn := registry.NewConn(r.URL.Query().Get("connection_id"), sock)

	log.Debug().
		Str("actor", name).
		Str("conn_id", conn.ID).
		Str("request_id", requestctx.RequestID(ctx)).
		Str("subject", requestctx.Subject(ctx)).
		Msg("WebSocket connection accepted")

	if err := inst.HandleConnection(ctx, conn, readOnly); err != nil {
		log.Error().Err(err).Str("actor", name).Msg("Connection handling failed")
		sock.Close(websocket.StatusInternalError, "internal error")
	}
}
