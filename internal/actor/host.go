package actor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/config"
	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/metrics"
)

// Factory resolves the definition for a named actor. Hosts call it every
// time an instance is (re)constructed, so registrations can vary by name.
type Factory func(name string) Definition

// Host owns the name → instance table. Instances are built on first use,
// evicted (hibernated) after sitting idle with no connections, and rebuilt
// from their store the next time the name is addressed.
type Host struct {
	cfg     *config.Config
	factory Factory

	mu        sync.Mutex
	instances map[string]*Instance

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHost creates a host and starts its eviction sweep.
func NewHost(cfg *config.Config, factory Factory) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		cfg:       cfg,
		factory:   factory,
		instances: make(map[string]*Instance),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.wg.Add(1)
	go h.evictLoop()
	return h
}

// Get returns the live instance for name, constructing it from storage when
// absent. Construction holds the host lock; instances are cheap to build
// because all heavy state lives in the store.
func (h *Host) Get(ctx context.Context, name string) (*Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if inst, ok := h.instances[name]; ok {
		inst.touch()
		return inst, nil
	}

	db, err := database.OpenActor(&h.cfg.Database, name)
	if err != nil {
		return nil, err
	}

	inst, err := NewInstance(ctx, name, db, h.factory(name), &h.cfg.Actors)
	if err != nil {
		db.Close()
		return nil, err
	}

	h.instances[name] = inst
	metrics.InstancesActive.Set(float64(len(h.instances)))
	log.Debug().Str("actor", name).Msg("Actor instance started")
	return inst, nil
}

// evictLoop hibernates instances that have been idle past the configured TTL
// and hold no live connections.
func (h *Host) evictLoop() {
	defer h.wg.Done()

	ttl := h.cfg.Actors.IdleTTL
	if ttl <= 0 {
		return
	}

	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ttl)
		}
	}
}

func (h *Host) sweep(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)

	h.mu.Lock()
	var idle []*Instance
	for name, inst := range h.instances {
		if inst.LastActive().Before(cutoff) && inst.Registry.Count() == 0 {
			idle = append(idle, inst)
			delete(h.instances, name)
		}
	}
	metrics.InstancesActive.Set(float64(len(h.instances)))
	h.mu.Unlock()

	for _, inst := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := inst.Hibernate(ctx); err != nil {
			log.Warn().Err(err).Str("actor", inst.Name).Msg("Hibernation failed")
		}
		cancel()
		log.Debug().Str("actor", inst.Name).Msg("Actor instance hibernated")
	}
}

// Shutdown hibernates every live instance and stops the sweep.
func (h *Host) Shutdown(ctx context.Context) error {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	instances := make([]*Instance, 0, len(h.instances))
	for _, inst := range h.instances {
		instances = append(instances, inst)
	}
	h.instances = make(map[string]*Instance)
	metrics.InstancesActive.Set(0)
	h.mu.Unlock()

	var firstErr error
	for _, inst := range instances {
		if err := inst.Hibernate(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
