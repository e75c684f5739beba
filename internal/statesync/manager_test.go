package statesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/burrowlabs/burrow/internal/config"
	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/registry"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := &config.DatabaseConfig{
		Dir:          tmpDir,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(tmpDir+"/test.db", cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

// captureSink records emitted event types for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []string
}

func (c *captureSink) Emit(eventType string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
}

func (c *captureSink) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func testManager(t *testing.T, opts Options) (*Manager, *registry.Registry, *captureSink) {
	t.Helper()
	db := testDB(t)
	reg := registry.New(db)
	sink := &captureSink{}

	m, err := New(db, reg, sink, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m, reg, sink
}

func TestNew_ConflictingHooks(t *testing.T) {
	db := testDB(t)
	reg := registry.New(db)

	_, err := New(db, reg, nil, Options{
		Hooks: Hooks{
			OnStateUpdate:       func(json.RawMessage, Source) {},
			ValidateStateChange: func(_, _ json.RawMessage, _ Source) error { return nil },
		},
	})
	if !errors.Is(err, ErrConflictingHooks) {
		t.Fatalf("err = %v, want ErrConflictingHooks", err)
	}

	_, err = New(db, reg, nil, Options{
		Hooks: Hooks{
			OnStateUpdate:  func(json.RawMessage, Source) {},
			OnStateChanged: func(json.RawMessage, Source) error { return nil },
		},
	})
	if !errors.Is(err, ErrConflictingHooks) {
		t.Fatalf("err = %v, want ErrConflictingHooks", err)
	}
}

func TestGetState_MaterializesInitialOnce(t *testing.T) {
	db := testDB(t)
	reg := registry.New(db)

	m, err := New(db, reg, nil, Options{InitialState: []byte(`{"count":0}`)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	got, err := m.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `{"count":0}` {
		t.Errorf("GetState = %s, want initial state", got)
	}

	// A second manager over the same store (a rebuilt instance) sees the
	// persisted value, even with a different initial state configured.
	m2, err := New(db, reg, nil, Options{InitialState: []byte(`{"count":99}`)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err = m2.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `{"count":0}` {
		t.Errorf("GetState after rebuild = %s, want first initial state", got)
	}
}

func TestSetState_NilIsInitialized(t *testing.T) {
	db := testDB(t)
	reg := registry.New(db)

	m, err := New(db, reg, nil, Options{InitialState: []byte(`"seed"`)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if err := m.SetState(ctx, nil, ServerSource()); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	// Deliberately-set nil must not be confused with never-initialized:
	// a rebuilt manager returns nil, not the initial state.
	m2, err := New(db, reg, nil, Options{InitialState: []byte(`"seed"`)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := m2.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetState = %s, want nil (explicitly cleared)", got)
	}
}

func TestSetState_PersistsAndBroadcasts(t *testing.T) {
	m, reg, sink := testManager(t, Options{})
	ctx := context.Background()

	origin := registry.NewConn("origin", nil)
	peer := registry.NewConn("peer", nil)
	if err := reg.Attach(ctx, origin); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := reg.Attach(ctx, peer); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if err := m.SetState(ctx, []byte(`{"n":1}`), ConnectionSource(origin)); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	got, err := m.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `{"n":1}` {
		t.Errorf("GetState = %s", got)
	}

	if sink.count("state:updated") != 1 {
		t.Errorf("updated events = %d, want 1", sink.count("state:updated"))
	}
}

func TestSetState_ValidationRejects(t *testing.T) {
	m, reg, sink := testManager(t, Options{
		InitialState: []byte(`{"n":1}`),
		Hooks: Hooks{
			ValidateStateChange: func(current, proposed json.RawMessage, source Source) error {
				return errors.New("nope")
			},
		},
	})
	ctx := context.Background()

	origin := registry.NewConn("origin", nil)
	if err := reg.Attach(ctx, origin); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	err := m.SetState(ctx, []byte(`{"n":2}`), ConnectionSource(origin))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}

	// No persistence: the current value is unchanged.
	got, err := m.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `{"n":1}` {
		t.Errorf("GetState = %s, want unchanged state", got)
	}

	if sink.count("state:rejected") != 1 {
		t.Errorf("rejected events = %d, want 1", sink.count("state:rejected"))
	}
	if sink.count("state:updated") != 0 {
		t.Errorf("updated events = %d, want 0", sink.count("state:updated"))
	}
}

func TestSetState_ValidationPanicRejects(t *testing.T) {
	m, _, sink := testManager(t, Options{
		Hooks: Hooks{
			ValidateStateChange: func(_, _ json.RawMessage, _ Source) error {
				panic("validator exploded")
			},
		},
	})

	err := m.SetState(context.Background(), []byte(`1`), ServerSource())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if sink.count("state:rejected") != 1 {
		t.Errorf("rejected events = %d, want 1", sink.count("state:rejected"))
	}
}

func TestSetState_ChangedHookFailureDoesNotBlock(t *testing.T) {
	m, _, sink := testManager(t, Options{
		Hooks: Hooks{
			OnStateChanged: func(json.RawMessage, Source) error {
				return errors.New("side effect failed")
			},
		},
	})
	ctx := context.Background()

	if err := m.SetState(ctx, []byte(`2`), ServerSource()); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	got, err := m.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `2` {
		t.Errorf("GetState = %s, want 2 (hook failure must not roll back)", got)
	}
	if sink.count("state:error") != 1 {
		t.Errorf("error events = %d, want 1", sink.count("state:error"))
	}
	if sink.count("state:updated") != 1 {
		t.Errorf("updated events = %d, want 1", sink.count("state:updated"))
	}
}

func TestSetState_LegacyHookRuns(t *testing.T) {
	var gotState json.RawMessage
	var gotSource string

	m, _, _ := testManager(t, Options{
		Hooks: Hooks{
			OnStateUpdate: func(state json.RawMessage, source Source) {
				gotState = state
				gotSource = source.Wire()
			},
		},
	})

	if err := m.SetState(context.Background(), []byte(`"v"`), ServerSource()); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	if string(gotState) != `"v"` {
		t.Errorf("hook state = %s", gotState)
	}
	if gotSource != "server" {
		t.Errorf("hook source = %q, want server", gotSource)
	}
}

func TestGetState_CorruptFallsBack(t *testing.T) {
	db := testDB(t)
	reg := registry.New(db)
	sink := &captureSink{}

	m, err := New(db, reg, sink, Options{InitialState: []byte(`"fresh"`)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	// Corrupt the stored value behind the manager's back.
	_, err = db.ExecContext(ctx,
		`INSERT INTO actor_state (slot, value, initialized, updated_at) VALUES ('state', ?, 1, ?)
		 ON CONFLICT(slot) DO UPDATE SET value = excluded.value, initialized = 1`,
		`{not json`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		t.Fatalf("corrupting state failed: %v", err)
	}

	got, err := m.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `"fresh"` {
		t.Errorf("GetState = %s, want fallback to initial state", got)
	}
	if sink.count("state:corrupt") != 1 {
		t.Errorf("corrupt events = %d, want 1", sink.count("state:corrupt"))
	}
}

func TestSource_Wire(t *testing.T) {
	if got := ServerSource().Wire(); got != "server" {
		t.Errorf("ServerSource().Wire() = %q", got)
	}

	conn := registry.NewConn("c-9", nil)
	if got := ConnectionSource(conn).Wire(); got != "c-9" {
		t.Errorf("ConnectionSource().Wire() = %q", got)
	}
}
