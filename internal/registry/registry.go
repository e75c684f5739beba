package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/metrics"
)

// ConnFilter narrows Connections results. Zero-valued fields match everything.
type ConnFilter struct {
	IDs      []string
	ReadOnly *bool
}

// Registry tracks the live connections of one actor instance and keeps each
// connection's envelope synchronized with the durable store.
type Registry struct {
	store *EnvelopeStore

	mu    sync.RWMutex
	conns map[string]*Conn

	// closing tracks in-flight close handlers so teardown can wait for them
	closing sync.WaitGroup
}

// New creates an empty registry over the instance store.
func New(db *database.DB) *Registry {
	return &Registry{
		store: NewEnvelopeStore(db),
		conns: make(map[string]*Conn),
	}
}

// Attach adds a connection, reattaching its persisted envelope when one
// exists for its id. Hibernation may have destroyed the previous in-process
// wrapper (or the whole process); the envelope row is the surviving identity.
func (r *Registry) Attach(ctx context.Context, conn *Conn) error {
	env, err := r.store.Load(ctx, conn.ID)
	if err != nil {
		return err
	}

	if env != nil {
		conn.setEnvelope(*env)
		log.Debug().Str("conn_id", conn.ID).Msg("Reattached connection envelope")
	} else {
		fresh := conn.snapshotEnvelope()
		if err := r.store.Save(ctx, conn.ID, &fresh); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	log.Debug().Str("conn_id", conn.ID).Int("total", total).Msg("Connection attached")
	return nil
}

// Detach removes the in-process wrapper but keeps the envelope row, for
// connections whose socket outlives the handling state.
func (r *Registry) Detach(connID string) {
	r.mu.Lock()
	_, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	if ok {
		metrics.ConnectionsActive.Dec()
	}
}

// Close removes a connection for good: wrapper, registry membership, and
// envelope row. The registered close work is tracked so Drain can wait on it.
func (r *Registry) Close(ctx context.Context, connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	if !ok {
		return
	}

	r.closing.Add(1)
	defer r.closing.Done()

	metrics.ConnectionsActive.Dec()
	conn.Close()

	if err := r.store.Delete(ctx, connID); err != nil {
		log.Error().Err(err).Str("conn_id", connID).Msg("Failed to delete connection envelope")
	}

	log.Debug().Str("conn_id", connID).Msg("Connection closed")
}

// Get returns a connection by id.
func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// Connections returns the live connections matching the filter.
func (r *Registry) Connections(filter ConnFilter) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var wantIDs map[string]struct{}
	if len(filter.IDs) > 0 {
		wantIDs = make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			wantIDs[id] = struct{}{}
		}
	}

	conns := make([]*Conn, 0, len(r.conns))
	for id, conn := range r.conns {
		if wantIDs != nil {
			if _, ok := wantIDs[id]; !ok {
				continue
			}
		}
		if filter.ReadOnly != nil && conn.ReadOnly() != *filter.ReadOnly {
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SetReadOnly updates a connection's read-only flag, persisting the envelope.
func (r *Registry) SetReadOnly(ctx context.Context, conn *Conn, readOnly bool) error {
	conn.mu.Lock()
	conn.envelope.ReadOnly = readOnly
	env := conn.envelope
	conn.mu.Unlock()

	return r.store.Save(ctx, conn.ID, &env)
}

// IsReadOnly reports a connection's read-only flag.
func (r *Registry) IsReadOnly(conn *Conn) bool {
	return conn.ReadOnly()
}

// SetConnState replaces the user-visible portion of a connection's envelope,
// round-tripping the read-only flag untouched, and persists it.
func (r *Registry) SetConnState(ctx context.Context, conn *Conn, state json.RawMessage) error {
	conn.mu.Lock()
	conn.envelope.State = state
	env := conn.envelope
	conn.mu.Unlock()

	return r.store.Save(ctx, conn.ID, &env)
}

// ConnState returns the user-visible portion of a connection's envelope.
func (r *Registry) ConnState(conn *Conn) json.RawMessage {
	return conn.State()
}

// Broadcast sends a frame to every live connection except the excluded ids,
// returning the number of sends attempted.
func (r *Registry) Broadcast(frame any, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for id, conn := range r.conns {
		if _, excluded := skip[id]; excluded {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			log.Debug().Err(err).Str("conn_id", conn.ID).Msg("Broadcast send failed")
		}
	}

	if len(targets) > 0 {
		metrics.BroadcastsTotal.Inc()
	}
	return len(targets)
}

// Drain waits until in-flight close handlers have finished or the context
// expires. A registry observing zero connections must still let close
// handlers complete before the instance is torn down further.
func (r *Registry) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.closing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes every live connection without deleting envelope rows, so
// clients can reattach after the instance is rebuilt.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		metrics.ConnectionsActive.Dec()
		conn.Close()
	}
}
