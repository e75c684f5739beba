// Package actor wires one named instance together: durable store, persisted
// scheduler, state synchronization, connection registry, outbound
// orchestrator, and RPC dispatch, with all handler turns serialized.
package actor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/config"
	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/events"
	"github.com/burrowlabs/burrow/internal/outbound"
	"github.com/burrowlabs/burrow/internal/registry"
	"github.com/burrowlabs/burrow/internal/rpc"
	"github.com/burrowlabs/burrow/internal/scheduler"
	"github.com/burrowlabs/burrow/internal/statesync"
)

// Definition declares an actor type: its initial state, hooks, published
// methods (capability chain, base first), and named scheduled callbacks.
type Definition struct {
	InitialState json.RawMessage
	EchoToOrigin bool
	Hooks        statesync.Hooks

	// Methods is the capability chain; later sets override earlier ones
	// name by name, so the most-derived declaration wins.
	Methods []rpc.MethodSet

	Callbacks map[string]scheduler.Callback

	// Sink overrides the process default diagnostic sink; nil uses the
	// default, events.NopSink() opts out.
	Sink events.Sink

	// OutboundDialer overrides the websocket dialer (used by tests).
	OutboundDialer outbound.Dialer
}

// Instance is one live named actor.
type Instance struct {
	Name string

	db         *database.DB
	sink       events.Sink
	Registry   *registry.Registry
	Scheduler  *scheduler.Scheduler
	State      *statesync.Manager
	Outbound   *outbound.Orchestrator
	dispatcher *rpc.Dispatcher

	// runMu serializes handler turns: no two handlers interleave on this
	// instance's in-memory state. I/O inside a handler holds its turn.
	runMu sync.Mutex

	lastActiveMu sync.Mutex
	lastActive   time.Time
}

// NewInstance constructs (or reconstructs after eviction) the instance for a
// name. The only fatal configuration error is a conflicting hook set.
func NewInstance(ctx context.Context, name string, db *database.DB, def Definition, cfg *config.ActorsConfig) (*Instance, error) {
	sink := def.Sink
	if sink == nil {
		sink = events.Default()
	}

	reg := registry.New(db)

	state, err := statesync.New(db, reg, sink, statesync.Options{
		InitialState: def.InitialState,
		EchoToOrigin: def.EchoToOrigin,
		Hooks:        def.Hooks,
	})
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(db, sink, scheduler.Config{
		HangThreshold: cfg.HangThreshold,
		MaxAttempts:   cfg.MaxAttempts,
		PollInterval:  cfg.PollInterval,
	})

	orch := outbound.New(db, reg, sink, outbound.Options{
		Dialer:      def.OutboundDialer,
		DialTimeout: cfg.OutboundDialTimeout,
	})

	inst := &Instance{
		Name:       name,
		db:         db,
		sink:       sink,
		Registry:   reg,
		Scheduler:  sched,
		State:      state,
		Outbound:   orch,
		dispatcher: rpc.NewDispatcher(sink, def.Methods...),
		lastActive: time.Now(),
	}

	for cbName, cb := range def.Callbacks {
		inst.registerCallback(cbName, cb)
	}

	sched.Start()

	if err := orch.RestoreFromStorage(ctx); err != nil {
		log.Error().Err(err).Str("actor", name).Msg("Failed to restore outbound connections")
	}

	sink.Emit("lifecycle:start", map[string]any{"actor": name})
	return inst, nil
}

// registerCallback wraps a scheduled callback in the instance run lock so
// firings never interleave with frame handlers.
func (i *Instance) registerCallback(name string, cb scheduler.Callback) {
	i.Scheduler.RegisterCallback(name, func(ctx context.Context, payload json.RawMessage, schedule *scheduler.Schedule) error {
		i.runMu.Lock()
		defer i.runMu.Unlock()
		i.touch()
		return cb(ctx, payload, schedule)
	})
}

// HandleConnection attaches a connection, performs the handshake sequence
// (identity, state, outbound status, in that order), and pumps frames until
// the socket closes. readOnly forces the gate on regardless of any flag
// persisted with a reattached envelope.
func (i *Instance) HandleConnection(ctx context.Context, conn *registry.Conn, readOnly bool) error {
	if err := i.Registry.Attach(ctx, conn); err != nil {
		return err
	}
	i.touch()

	if readOnly && !i.Registry.IsReadOnly(conn) {
		if err := i.Registry.SetReadOnly(ctx, conn, true); err != nil {
			i.Registry.Close(ctx, conn.ID)
			return err
		}
	}

	state, err := i.State.GetState(ctx)
	if err != nil {
		i.Registry.Close(ctx, conn.ID)
		return err
	}

	_ = conn.Send(&registry.IdentityFrame{Type: registry.FrameIdentity, Name: i.Name})
	_ = conn.Send(&registry.StateFrame{Type: registry.FrameState, State: state, Source: "server"})
	_ = conn.Send(i.Outbound.StatusSnapshotFrame())

	i.sink.Emit("lifecycle:connect", map[string]any{
		"actor":   i.Name,
		"conn_id": conn.ID,
	})

	conn.Run(i.handleFrame)

	i.Registry.Close(context.Background(), conn.ID)
	i.sink.Emit("lifecycle:close", map[string]any{
		"actor":   i.Name,
		"conn_id": conn.ID,
	})
	return nil
}

// handleFrame routes one inbound frame under the instance run lock.
func (i *Instance) handleFrame(conn *registry.Conn, data []byte) {
	i.runMu.Lock()
	defer i.runMu.Unlock()
	i.touch()

	var head struct {
		Type registry.FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		_ = conn.Send(&registry.ErrorFrame{Type: registry.FrameError, Error: "invalid JSON frame"})
		return
	}

	switch head.Type {
	case registry.FrameState:
		i.handleStateFrame(conn, data)

	case registry.FrameRPC:
		var req rpc.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			_ = conn.Send(&registry.ErrorFrame{Type: registry.FrameError, Error: "invalid rpc frame"})
			return
		}
		i.dispatcher.Dispatch(context.Background(), conn, &req)

	default:
		_ = conn.Send(&registry.ErrorFrame{
			Type:  registry.FrameError,
			Error: "unknown frame type: " + string(head.Type),
		})
	}
}

// handleStateFrame is the enforcement point for read-only connections: the
// synchronization manager has no connection context for server-sourced
// calls, so gating happens here at the message entry.
func (i *Instance) handleStateFrame(conn *registry.Conn, data []byte) {
	if i.Registry.IsReadOnly(conn) {
		_ = conn.Send(&registry.StateErrorFrame{
			Type:  registry.FrameStateError,
			Error: "State update rejected",
		})
		return
	}

	var frame registry.StateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		_ = conn.Send(&registry.ErrorFrame{Type: registry.FrameError, Error: "invalid state frame"})
		return
	}

	if err := i.State.SetState(context.Background(), frame.State, statesync.ConnectionSource(conn)); err != nil {
		// Rejections already answered the origin; anything else is logged.
		log.Debug().Err(err).Str("actor", i.Name).Str("conn_id", conn.ID).Msg("State update not applied")
	}
}

// Do runs fn as one serialized handler turn, the same way inbound frames and
// scheduler firings run. Server-side code uses it to mutate state safely.
func (i *Instance) Do(fn func()) {
	i.runMu.Lock()
	defer i.runMu.Unlock()
	i.touch()
	fn()
}

// KeepAlive starts a stacked heartbeat schedule; the disposer cancels
// exactly the schedule this call created.
func (i *Instance) KeepAlive(ctx context.Context, intervalSeconds int64) (func(), error) {
	return i.Scheduler.KeepAlive(ctx, intervalSeconds)
}

// StopKeepAlive cancels the most recently started heartbeat, if any.
func (i *Instance) StopKeepAlive(ctx context.Context) bool {
	return i.Scheduler.StopKeepAlive(ctx)
}

// LastActive reports when the instance last handled work.
func (i *Instance) LastActive() time.Time {
	i.lastActiveMu.Lock()
	defer i.lastActiveMu.Unlock()
	return i.lastActive
}

func (i *Instance) touch() {
	i.lastActiveMu.Lock()
	i.lastActive = time.Now()
	i.lastActiveMu.Unlock()
}

// Hibernate suspends the instance: scheduler stopped, sockets closed with
// their envelope rows intact, store closed. A later reconstruction for the
// same name resumes from storage.
func (i *Instance) Hibernate(ctx context.Context) error {
	i.Scheduler.Stop()
	i.Registry.Shutdown()

	if err := i.Registry.Drain(ctx); err != nil {
		log.Warn().Err(err).Str("actor", i.Name).Msg("Registry drain interrupted")
	}

	i.sink.Emit("lifecycle:hibernate", map[string]any{"actor": i.Name})
	return i.db.Close()
}
