package actor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/burrowlabs/burrow/internal/config"
	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/events"
	"github.com/burrowlabs/burrow/internal/registry"
	"github.com/burrowlabs/burrow/internal/rpc"
	"github.com/burrowlabs/burrow/internal/scheduler"
	"github.com/burrowlabs/burrow/internal/statesync"
)

func testActorsConfig() *config.ActorsConfig {
	return &config.ActorsConfig{
		HangThreshold:       time.Minute,
		MaxAttempts:         3,
		PollInterval:        time.Hour, // never ticks during a test
		IdleTTL:             time.Hour,
		HeartbeatInterval:   30 * time.Second,
		OutboundDialTimeout: time.Second,
	}
}

func testInstance(t *testing.T, def Definition) *Instance {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := &config.DatabaseConfig{
		Dir:          tmpDir,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	db, err := database.OpenActor(cfg, "test")
	if err != nil {
		t.Fatalf("OpenActor failed: %v", err)
	}

	if def.Sink == nil {
		def.Sink = events.NopSink()
	}

	inst, err := NewInstance(context.Background(), "test", db, def, testActorsConfig())
	if err != nil {
		db.Close()
		t.Fatalf("NewInstance failed: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = inst.Hibernate(ctx)
	})

	return inst
}

// wsPair is a live socket attached to an instance's registry, with the
// client end available for reading what the instance sends.
type wsPair struct {
	conn   *registry.Conn
	client *websocket.Conn
}

func dialPair(t *testing.T, inst *Instance, id string) *wsPair {
	t.Helper()

	connCh := make(chan *registry.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}

		conn := registry.NewConn(id, sock)
		if err := inst.Registry.Attach(r.Context(), conn); err != nil {
			t.Errorf("Attach failed: %v", err)
			return
		}
		connCh <- conn
		conn.Run(func(*registry.Conn, []byte) {})
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "test over") })

	select {
	case conn := <-connCh:
		return &wsPair{conn: conn, client: client}
	case <-ctx.Done():
		t.Fatal("server never attached the connection")
		return nil
	}
}

// read decodes the next frame from the client end.
func (p *wsPair) read(t *testing.T) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := p.client.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return frame
}

// expectNoFrame asserts nothing arrives within a short window.
func (p *wsPair) expectNoFrame(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if _, data, err := p.client.Read(ctx); err == nil {
		t.Errorf("unexpected frame: %s", data)
	}
}

func TestHandleFrame_StateUpdateBroadcasts(t *testing.T) {
	inst := testInstance(t, Definition{})
	ctx := context.Background()

	origin := dialPair(t, inst, "origin")
	peer := dialPair(t, inst, "peer")

	inst.handleFrame(origin.conn, []byte(`{"type":"state","state":{"n":1}}`))

	got, err := inst.State.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `{"n":1}` {
		t.Errorf("state = %s, want {\"n\":1}", got)
	}

	frame := peer.read(t)
	if frame["type"] != "state" {
		t.Errorf("peer frame type = %v, want state", frame["type"])
	}
	if frame["source"] != "origin" {
		t.Errorf("broadcast source = %v, want origin", frame["source"])
	}

	origin.expectNoFrame(t)
}

func TestHandleFrame_ReadOnlyRejected(t *testing.T) {
	inst := testInstance(t, Definition{InitialState: []byte(`{"n":0}`)})
	ctx := context.Background()

	origin := dialPair(t, inst, "ro")
	if err := inst.Registry.SetReadOnly(ctx, origin.conn, true); err != nil {
		t.Fatalf("SetReadOnly failed: %v", err)
	}

	inst.handleFrame(origin.conn, []byte(`{"type":"state","state":{"n":9}}`))

	got, err := inst.State.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `{"n":0}` {
		t.Errorf("state = %s, want unchanged", got)
	}

	frame := origin.read(t)
	if frame["type"] != "state_error" {
		t.Fatalf("frame type = %v, want state_error", frame["type"])
	}
	if frame["error"] != "State update rejected" {
		t.Errorf("error = %v", frame["error"])
	}
}

func TestHandleFrame_RPCDispatch(t *testing.T) {
	inst := testInstance(t, Definition{
		Methods: []rpc.MethodSet{{
			"ping": {Unary: func(context.Context, *rpc.Call) (any, error) {
				return "pong", nil
			}},
		}},
	})

	caller := dialPair(t, inst, "caller")
	inst.handleFrame(caller.conn, []byte(`{"type":"rpc","id":"r1","method":"ping"}`))

	frame := caller.read(t)
	if frame["success"] != true || frame["result"] != "pong" {
		t.Errorf("response = %v", frame)
	}
	if frame["id"] != "r1" {
		t.Errorf("id = %v, want r1", frame["id"])
	}
}

func TestHandleFrame_UnknownType(t *testing.T) {
	inst := testInstance(t, Definition{})

	conn := dialPair(t, inst, "confused")
	inst.handleFrame(conn.conn, []byte(`{"type":"telepathy"}`))

	frame := conn.read(t)
	if frame["type"] != "error" {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}
}

func TestHandleFrame_InvalidJSON(t *testing.T) {
	inst := testInstance(t, Definition{})

	conn := dialPair(t, inst, "garbled")
	inst.handleFrame(conn.conn, []byte(`{{{`))

	frame := conn.read(t)
	if frame["type"] != "error" {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}
}

func TestNewInstance_ConflictingHooksFatal(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.DatabaseConfig{Dir: tmpDir, BusyTimeout: 5 * time.Second, MaxOpenConns: 1, MaxIdleConns: 1}
	db, err := database.OpenActor(cfg, "bad")
	if err != nil {
		t.Fatalf("OpenActor failed: %v", err)
	}
	defer db.Close()

	_, err = NewInstance(context.Background(), "bad", db, Definition{
		Sink: events.NopSink(),
		Hooks: statesync.Hooks{
			OnStateUpdate:       func(json.RawMessage, statesync.Source) {},
			ValidateStateChange: func(_, _ json.RawMessage, _ statesync.Source) error { return nil },
		},
	}, testActorsConfig())
	if err == nil {
		t.Fatal("expected conflicting hooks error")
	}
}

func TestRegisteredCallbackRuns(t *testing.T) {
	fired := make(chan struct{}, 1)
	inst := testInstance(t, Definition{
		Callbacks: map[string]scheduler.Callback{
			"notify": func(context.Context, json.RawMessage, *scheduler.Schedule) error {
				select {
				case fired <- struct{}{}:
				default:
				}
				return nil
			},
		},
	})
	ctx := context.Background()

	if _, err := inst.Scheduler.Schedule(ctx, scheduler.At(time.Now().Add(-time.Second)), "notify", nil); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := inst.Scheduler.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue failed: %v", err)
	}

	select {
	case <-fired:
	default:
		t.Error("registered callback did not fire")
	}
}

func TestHibernate_StateSurvives(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.DatabaseConfig{Dir: tmpDir, BusyTimeout: 5 * time.Second, MaxOpenConns: 1, MaxIdleConns: 1}
	ctx := context.Background()

	db, err := database.OpenActor(cfg, "sleeper")
	if err != nil {
		t.Fatalf("OpenActor failed: %v", err)
	}

	def := Definition{Sink: events.NopSink()}
	inst, err := NewInstance(ctx, "sleeper", db, def, testActorsConfig())
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}

	if err := inst.State.SetState(ctx, []byte(`{"alive":true}`), statesync.ServerSource()); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	if err := inst.Hibernate(ctx); err != nil {
		t.Fatalf("Hibernate failed: %v", err)
	}

	// Reconstruction, as the host does on next access.
	db2, err := database.OpenActor(cfg, "sleeper")
	if err != nil {
		t.Fatalf("OpenActor failed: %v", err)
	}
	revived, err := NewInstance(ctx, "sleeper", db2, def, testActorsConfig())
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	defer revived.Hibernate(ctx)

	got, err := revived.State.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if string(got) != `{"alive":true}` {
		t.Errorf("state = %s after hibernation", got)
	}
}

func TestKeepAlive_Passthrough(t *testing.T) {
	inst := testInstance(t, Definition{})
	ctx := context.Background()

	dispose, err := inst.KeepAlive(ctx, 30)
	if err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}
	if got := inst.Scheduler.ActiveKeepAlives(); got != 1 {
		t.Errorf("ActiveKeepAlives = %d, want 1", got)
	}

	dispose()
	if inst.StopKeepAlive(ctx) {
		t.Error("StopKeepAlive = true with nothing active")
	}
}

func TestHost_GetReusesAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Dir = t.TempDir()
	cfg.Actors.IdleTTL = time.Hour
	cfg.Actors.PollInterval = time.Hour

	host := NewHost(cfg, func(name string) Definition {
		return Definition{Sink: events.NopSink()}
	})
	ctx := context.Background()

	a, err := host.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	again, err := host.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a != again {
		t.Error("Get returned a new instance for a live name")
	}

	b, err := host.Get(ctx, "beta")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a == b {
		t.Error("distinct names share an instance")
	}

	if err := host.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// A fresh host over the same data dir rebuilds the instance from its
	// surviving store.
	host2 := NewHost(cfg, func(name string) Definition {
		return Definition{Sink: events.NopSink()}
	})
	defer host2.Shutdown(ctx)

	if _, err := host2.Get(ctx, "alpha"); err != nil {
		t.Fatalf("Get after rebuild failed: %v", err)
	}
}
