// Package statesync owns the actor's state value and the synchronization
// protocol: validate, persist, notify, broadcast — in that order, with
// validation failures aborting every later step.
package statesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/events"
	"github.com/burrowlabs/burrow/internal/registry"
)

// ErrConflictingHooks is returned at construction when both the legacy
// on-update hook and the validate/changed pair are declared.
var ErrConflictingHooks = errors.New("onStateUpdate cannot be combined with validateStateChange or onStateChanged")

// ErrRejected is returned when the validation hook refuses an update.
var ErrRejected = errors.New("state update rejected")

// rejectionMessage is the error text sent to the originating connection.
const rejectionMessage = "State update rejected"

// Source identifies who initiated a state change.
type Source struct {
	conn *registry.Conn
}

// ServerSource marks a change initiated by the actor itself.
func ServerSource() Source { return Source{} }

// ConnectionSource marks a change initiated by a client connection.
func ConnectionSource(conn *registry.Conn) Source { return Source{conn: conn} }

// Conn returns the originating connection, or nil for server-sourced changes.
func (s Source) Conn() *registry.Conn { return s.conn }

// Wire is the source tag attached to broadcast state frames so receivers can
// distinguish server-origin from peer-origin updates.
func (s Source) Wire() string {
	if s.conn == nil {
		return "server"
	}
	return s.conn.ID
}

// Hooks customize the synchronization protocol.
type Hooks struct {
	// OnStateUpdate is the legacy single hook, called after persistence.
	// It cannot be combined with the pair below.
	OnStateUpdate func(state json.RawMessage, source Source)

	// ValidateStateChange runs synchronously before any mutation; an error
	// aborts the update with no persistence and no broadcast.
	ValidateStateChange func(current, proposed json.RawMessage, source Source) error

	// OnStateChanged runs best-effort after persistence; its failure is
	// reported and never blocks the broadcast.
	OnStateChanged func(state json.RawMessage, source Source) error
}

// Options configure a Manager.
type Options struct {
	// InitialState is materialized and persisted on the first read of an
	// uninitialized instance.
	InitialState json.RawMessage

	// EchoToOrigin includes the originating connection in broadcasts.
	EchoToOrigin bool

	Hooks Hooks
}

// Manager owns the actor's current state value.
type Manager struct {
	store    *stateStore
	registry *registry.Registry
	sink     events.Sink
	opts     Options

	mu     sync.Mutex
	cached json.RawMessage
	loaded bool
}

// New creates a Manager. Declaring the legacy on-update hook together with
// either of the validate/changed pair is a configuration error.
func New(db *database.DB, reg *registry.Registry, sink events.Sink, opts Options) (*Manager, error) {
	if opts.Hooks.OnStateUpdate != nil && (opts.Hooks.ValidateStateChange != nil || opts.Hooks.OnStateChanged != nil) {
		return nil, ErrConflictingHooks
	}
	if sink == nil {
		sink = events.Default()
	}

	return &Manager{
		store:    newStateStore(db),
		registry: reg,
		sink:     sink,
		opts:     opts,
	}, nil
}

// GetState returns the current state, materializing InitialState exactly
// once for a never-initialized instance. A corrupted stored value falls back
// to InitialState; the corruption is logged, not fatal.
func (m *Manager) GetState(ctx context.Context) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) (json.RawMessage, error) {
	if m.loaded {
		return m.cached, nil
	}

	value, initialized, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if initialized && value != nil && !json.Valid(value) {
		log.Error().Msg("Persisted actor state is unreadable, falling back to initial state")
		m.sink.Emit("state:corrupt", map[string]any{"bytes": len(value)})
		value = nil
		initialized = false
	}

	if !initialized {
		value = m.opts.InitialState
		if err := m.store.Save(ctx, value); err != nil {
			return nil, fmt.Errorf("persisting initial state: %w", err)
		}
	}

	m.cached = value
	m.loaded = true
	return m.cached, nil
}

// SetState runs the full synchronization protocol for a proposed new value.
// Broadcast order matches commit order: the lock is held from validation
// through broadcast, and callers are already serialized per instance.
func (m *Manager) SetState(ctx context.Context, newValue json.RawMessage, source Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.loadLocked(ctx)
	if err != nil {
		return err
	}

	if m.opts.Hooks.ValidateStateChange != nil {
		if err := m.runValidation(current, newValue, source); err != nil {
			if conn := source.Conn(); conn != nil {
				_ = conn.Send(&registry.StateErrorFrame{
					Type:  registry.FrameStateError,
					Error: rejectionMessage,
				})
			}
			m.sink.Emit("state:rejected", map[string]any{
				"source": source.Wire(),
				"error":  err.Error(),
			})
			return fmt.Errorf("%w: %s", ErrRejected, err)
		}
	}

	if err := m.store.Save(ctx, newValue); err != nil {
		return err
	}
	m.cached = newValue
	m.loaded = true

	m.notify(newValue, source)

	var exclude []string
	if conn := source.Conn(); conn != nil && !m.opts.EchoToOrigin {
		exclude = append(exclude, conn.ID)
	}
	m.registry.Broadcast(&registry.StateFrame{
		Type:   registry.FrameState,
		State:  newValue,
		Source: source.Wire(),
	}, exclude...)

	m.sink.Emit("state:updated", map[string]any{"source": source.Wire()})
	return nil
}

// runValidation calls the validation hook, converting panics into errors.
func (m *Manager) runValidation(current, proposed json.RawMessage, source Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validation hook panicked: %v", r)
		}
	}()
	return m.opts.Hooks.ValidateStateChange(current, proposed, source)
}

// notify runs the post-persistence hooks best-effort; their failures are
// reported and never block the broadcast.
func (m *Manager) notify(state json.RawMessage, source Source) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("State change hook panicked")
			m.sink.Emit("state:error", map[string]any{"error": fmt.Sprint(r)})
		}
	}()

	if m.opts.Hooks.OnStateUpdate != nil {
		m.opts.Hooks.OnStateUpdate(state, source)
		return
	}

	if m.opts.Hooks.OnStateChanged != nil {
		if err := m.opts.Hooks.OnStateChanged(state, source); err != nil {
			log.Error().Err(err).Msg("State change hook failed")
			m.sink.Emit("state:error", map[string]any{"error": err.Error()})
		}
	}
}
