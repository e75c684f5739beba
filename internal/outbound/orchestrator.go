// Package outbound manages connections to remote capability servers:
// persistence of server rows, background connection attempts with retry,
// restore-once semantics after a process rebuild, and the readiness barrier
// over the pending attempts.
package outbound

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/flowchartsman/retry"
	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/events"
	"github.com/burrowlabs/burrow/internal/metrics"
	"github.com/burrowlabs/burrow/internal/registry"
)

// ConnState is the lifecycle state of one outbound connection.
type ConnState string

const (
	StateConnecting     ConnState = "connecting"
	StateConnected      ConnState = "connected"
	StateAuthenticating ConnState = "authenticating"
	StateFailed         ConnState = "failed"
	StateDisconnected   ConnState = "disconnected"
)

const (
	dialRetries      = 3
	dialInitialDelay = 500 * time.Millisecond
	dialMaxDelay     = 5 * time.Second
)

// ServerConfig describes a capability server to connect to.
type ServerConfig struct {
	ServerID    string
	URL         string
	ClientID    string
	AuthURL     string
	CallbackURL string
}

// ServerStatus is the externally visible status of one server.
type ServerStatus struct {
	ServerID string    `json:"server_id"`
	URL      string    `json:"url"`
	State    ConnState `json:"state"`
	AuthURL  string    `json:"auth_url,omitempty"`
}

// StatusFrame is the outbound-connection snapshot sent on handshake and on
// every state transition.
type StatusFrame struct {
	Type    registry.FrameType `json:"type"`
	Servers []ServerStatus     `json:"servers"`
}

// Dialer performs one connection attempt to a capability server.
type Dialer func(ctx context.Context, url string) error

// WebSocketDialer dials the server URL over websocket with bounded retries.
func WebSocketDialer(ctx context.Context, url string) error {
	retrier := retry.NewRetrier(dialRetries, dialInitialDelay, dialMaxDelay)
	return retrier.RunContext(ctx, func(ctx context.Context) error {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return err
		}
		conn.Close(websocket.StatusNormalClosure, "probe complete")
		return nil
	})
}

type server struct {
	config ServerConfig
	state  ConnState
}

// Orchestrator manages the outbound connections of one actor instance.
type Orchestrator struct {
	store       *Store
	registry    *registry.Registry
	sink        events.Sink
	dialer      Dialer
	dialTimeout time.Duration

	mu         sync.Mutex
	servers    map[string]*server
	pending    mapset.Set[string]
	settled    chan struct{} // closed and replaced on every settlement
	restored   bool
	generation uint64
}

// Options configure an Orchestrator.
type Options struct {
	// Dialer overrides the default websocket dialer (used by tests).
	Dialer Dialer

	// DialTimeout bounds one background connection attempt.
	DialTimeout time.Duration
}

// New creates an orchestrator over the instance store.
func New(db *database.DB, reg *registry.Registry, sink events.Sink, opts Options) *Orchestrator {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if sink == nil {
		sink = events.Default()
	}

	return &Orchestrator{
		store:       NewStore(db),
		registry:    reg,
		sink:        sink,
		dialer:      opts.Dialer,
		dialTimeout: opts.DialTimeout,
		servers:     make(map[string]*server),
		pending:     mapset.NewSet[string](),
		settled:     make(chan struct{}),
	}
}

// AddServer persists a server row and begins connecting. Servers carrying a
// pending authorization URL go straight to authenticating and never enter
// the pending set: they need an external callback to progress, so waiting on
// them would never settle.
func (o *Orchestrator) AddServer(ctx context.Context, cfg ServerConfig) error {
	state := StateConnecting
	if cfg.AuthURL != "" {
		state = StateAuthenticating
	}

	row := &ServerRow{
		ServerID:    cfg.ServerID,
		URL:         cfg.URL,
		ClientID:    cfg.ClientID,
		AuthURL:     cfg.AuthURL,
		CallbackURL: cfg.CallbackURL,
		State:       state,
	}
	if err := o.store.Save(ctx, row); err != nil {
		return err
	}

	o.mu.Lock()
	o.servers[cfg.ServerID] = &server{config: cfg, state: state}
	var gen uint64
	if state == StateConnecting {
		o.pending.Add(cfg.ServerID)
		gen = o.generation
	}
	o.mu.Unlock()

	o.sink.Emit("mcp:server_added", map[string]any{
		"server_id": cfg.ServerID,
		"state":     string(state),
	})
	o.updateMetrics()

	if state == StateConnecting {
		go o.attempt(gen, cfg)
	}
	return nil
}

// RestoreFromStorage rebuilds in-memory connection objects from persisted
// rows. It runs at most once per process lifetime; ResetRestored re-enables
// it for tests.
func (o *Orchestrator) RestoreFromStorage(ctx context.Context) error {
	o.mu.Lock()
	if o.restored {
		o.mu.Unlock()
		return nil
	}
	o.restored = true
	gen := o.generation
	o.mu.Unlock()

	rows, err := o.store.List(ctx)
	if err != nil {
		return err
	}

	log.Debug().Int("count", len(rows)).Msg("Restoring outbound connections from storage")

	for _, row := range rows {
		cfg := ServerConfig{
			ServerID:    row.ServerID,
			URL:         row.URL,
			ClientID:    row.ClientID,
			AuthURL:     row.AuthURL,
			CallbackURL: row.CallbackURL,
		}

		if row.AuthURL != "" {
			o.mu.Lock()
			o.servers[row.ServerID] = &server{config: cfg, state: StateAuthenticating}
			o.mu.Unlock()

			if row.State != StateAuthenticating {
				if err := o.store.UpdateState(ctx, row.ServerID, StateAuthenticating); err != nil {
					log.Error().Err(err).Str("server_id", row.ServerID).Msg("Failed to persist authenticating state")
				}
			}
			continue
		}

		o.mu.Lock()
		o.servers[row.ServerID] = &server{config: cfg, state: StateConnecting}
		o.pending.Add(row.ServerID)
		o.mu.Unlock()

		go o.attempt(gen, cfg)
	}

	o.updateMetrics()
	return nil
}

// ResetRestored clears the restore-once guard and invalidates in-flight
// attempts from the previous generation.
func (o *Orchestrator) ResetRestored() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.restored = false
	o.generation++
	o.pending.Clear()
	o.notifySettledLocked()
}

// attempt runs one background connection attempt and settles its pending
// entry. Settlements from a stale generation are discarded rather than
// allowed to overwrite newer state.
func (o *Orchestrator) attempt(gen uint64, cfg ServerConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), o.dialTimeout)
	defer cancel()

	dialErr := o.dialer(ctx, cfg.URL)

	state := StateConnected
	if dialErr != nil {
		state = StateFailed
	}

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		log.Debug().Str("server_id", cfg.ServerID).Msg("Discarding stale outbound settlement")
		return
	}
	if srv, ok := o.servers[cfg.ServerID]; ok {
		srv.state = state
	}
	o.pending.Remove(cfg.ServerID)
	o.notifySettledLocked()
	o.mu.Unlock()

	if err := o.store.UpdateState(context.Background(), cfg.ServerID, state); err != nil {
		log.Error().Err(err).Str("server_id", cfg.ServerID).Msg("Failed to persist outbound state")
	}

	if dialErr != nil {
		log.Warn().Err(dialErr).Str("server_id", cfg.ServerID).Msg("Outbound connection failed")
		o.sink.Emit("mcp:connect_failed", map[string]any{
			"server_id": cfg.ServerID,
			"error":     dialErr.Error(),
		})
	} else {
		o.sink.Emit("mcp:connected", map[string]any{"server_id": cfg.ServerID})
	}

	o.updateMetrics()
	o.broadcastStatus()
}

// CompleteAuthorization settles an authenticating server after the external
// authorization callback finishes.
func (o *Orchestrator) CompleteAuthorization(ctx context.Context, serverID string, authErr error) error {
	state := StateConnected
	if authErr != nil {
		state = StateFailed
	}

	o.mu.Lock()
	if srv, ok := o.servers[serverID]; ok {
		srv.state = state
		srv.config.AuthURL = ""
	}
	o.mu.Unlock()

	if err := o.store.UpdateState(ctx, serverID, state); err != nil {
		return err
	}

	o.sink.Emit("mcp:authorization_complete", map[string]any{
		"server_id": serverID,
		"state":     string(state),
	})
	o.updateMetrics()
	o.broadcastStatus()
	return nil
}

// RemoveServer disconnects and deletes a server.
func (o *Orchestrator) RemoveServer(ctx context.Context, serverID string) error {
	o.mu.Lock()
	delete(o.servers, serverID)
	if o.pending.Contains(serverID) {
		o.pending.Remove(serverID)
		o.notifySettledLocked()
	}
	o.mu.Unlock()

	if err := o.store.Delete(ctx, serverID); err != nil {
		return err
	}

	o.sink.Emit("mcp:server_removed", map[string]any{"server_id": serverID})
	o.updateMetrics()
	o.broadcastStatus()
	return nil
}

// WaitForConnections is the readiness barrier: it returns once every pending
// connection attempt has settled (success or failure — the caller is never
// rejected) or the timeout elapses, whichever comes first. Returning on
// timeout does not cancel the underlying attempts. With nothing pending it
// returns immediately.
func (o *Orchestrator) WaitForConnections(ctx context.Context, timeout time.Duration) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		o.mu.Lock()
		if o.pending.Cardinality() == 0 {
			o.mu.Unlock()
			return
		}
		settled := o.settled
		o.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return
		}
	}
}

// Pending returns the server ids with unsettled connection attempts.
func (o *Orchestrator) Pending() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending.ToSlice()
}

// State returns the current state of one server.
func (o *Orchestrator) State(serverID string) (ConnState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	srv, ok := o.servers[serverID]
	if !ok {
		return "", false
	}
	return srv.state, true
}

// Snapshot returns the status of every known server, for the handshake frame
// and status broadcasts.
func (o *Orchestrator) Snapshot() []ServerStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make([]ServerStatus, 0, len(o.servers))
	for _, srv := range o.servers {
		statuses = append(statuses, ServerStatus{
			ServerID: srv.config.ServerID,
			URL:      srv.config.URL,
			State:    srv.state,
			AuthURL:  srv.config.AuthURL,
		})
	}
	return statuses
}

// StatusSnapshotFrame builds the wire frame for the current snapshot.
func (o *Orchestrator) StatusSnapshotFrame() *StatusFrame {
	return &StatusFrame{
		Type:    registry.FrameOutboundStatus,
		Servers: o.Snapshot(),
	}
}

func (o *Orchestrator) broadcastStatus() {
	if o.registry != nil {
		o.registry.Broadcast(o.StatusSnapshotFrame())
	}
}

// notifySettledLocked wakes the barrier's waiters. Callers hold o.mu.
func (o *Orchestrator) notifySettledLocked() {
	close(o.settled)
	o.settled = make(chan struct{})
}

func (o *Orchestrator) updateMetrics() {
	o.mu.Lock()
	counts := make(map[ConnState]int)
	for _, srv := range o.servers {
		counts[srv.state]++
	}
	o.mu.Unlock()

	for _, state := range []ConnState{StateConnecting, StateConnected, StateAuthenticating, StateFailed, StateDisconnected} {
		metrics.OutboundConnections.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
