package registry

import (
	"context"
	"testing"
	"time"

	"github.com/burrowlabs/burrow/internal/config"
	"github.com/burrowlabs/burrow/internal/database"
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

func TestAttach_FreshConnectionPersistsEnvelope(t *testing.T) {
	db := testDB(t)
	r := New(db)
	ctx := context.Background()

	conn := NewConn("", nil)
	if conn.ID == "" {
		t.Fatal("NewConn did not mint an id")
	}

	if err := r.Attach(ctx, conn); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	env, err := r.store.Load(ctx, conn.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if env == nil {
		t.Fatal("no envelope row persisted for fresh connection")
	}
	if env.ReadOnly {
		t.Error("fresh envelope marked read-only")
	}
}

func TestAttach_ReattachesPersistedEnvelope(t *testing.T) {
	db := testDB(t)
	r := New(db)
	ctx := context.Background()

	conn := NewConn("conn-1", nil)
	if err := r.Attach(ctx, conn); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := r.SetReadOnly(ctx, conn, true); err != nil {
		t.Fatalf("SetReadOnly failed: %v", err)
	}
	if err := r.SetConnState(ctx, conn, []byte(`{"cursor":42}`)); err != nil {
		t.Fatalf("SetConnState failed: %v", err)
	}

	// The wrapper is disposable: drop it and reattach by id.
	r.Detach(conn.ID)
	if r.Count() != 0 {
		t.Fatalf("Count = %d after Detach, want 0", r.Count())
	}

	revived := NewConn("conn-1", nil)
	if err := r.Attach(ctx, revived); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if !revived.ReadOnly() {
		t.Error("read-only flag lost across reattach")
	}
	if got := string(revived.State()); got != `{"cursor":42}` {
		t.Errorf("State = %s, want {\"cursor\":42}", got)
	}
}

func TestSetConnState_PreservesReadOnly(t *testing.T) {
	db := testDB(t)
	r := New(db)
	ctx := context.Background()

	conn := NewConn("conn-ro", nil)
	if err := r.Attach(ctx, conn); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := r.SetReadOnly(ctx, conn, true); err != nil {
		t.Fatalf("SetReadOnly failed: %v", err)
	}
	if err := r.SetConnState(ctx, conn, []byte(`"hello"`)); err != nil {
		t.Fatalf("SetConnState failed: %v", err)
	}

	env, err := r.store.Load(ctx, conn.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !env.ReadOnly {
		t.Error("read-only flag clobbered by SetConnState")
	}
	if string(env.State) != `"hello"` {
		t.Errorf("persisted State = %s, want \"hello\"", env.State)
	}
}

func TestClose_DeletesEnvelopeRow(t *testing.T) {
	db := testDB(t)
	r := New(db)
	ctx := context.Background()

	conn := NewConn("conn-bye", nil)
	if err := r.Attach(ctx, conn); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := r.SetConnState(ctx, conn, []byte(`1`)); err != nil {
		t.Fatalf("SetConnState failed: %v", err)
	}

	r.Close(ctx, conn.ID)

	if r.Count() != 0 {
		t.Errorf("Count = %d after Close, want 0", r.Count())
	}
	env, err := r.store.Load(ctx, conn.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if env != nil {
		t.Error("envelope row survived Close")
	}

	// A reconnect with the same id starts fresh.
	revived := NewConn("conn-bye", nil)
	if err := r.Attach(ctx, revived); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if revived.State() != nil {
		t.Errorf("State = %s after Close and reattach, want nil", revived.State())
	}
}

func TestShutdown_KeepsEnvelopeRows(t *testing.T) {
	db := testDB(t)
	r := New(db)
	ctx := context.Background()

	conn := NewConn("conn-hib", nil)
	if err := r.Attach(ctx, conn); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := r.SetConnState(ctx, conn, []byte(`{"resumable":true}`)); err != nil {
		t.Fatalf("SetConnState failed: %v", err)
	}

	r.Shutdown()

	if r.Count() != 0 {
		t.Errorf("Count = %d after Shutdown, want 0", r.Count())
	}

	// Rebuild (as instance reconstruction does) and reattach.
	r2 := New(db)
	revived := NewConn("conn-hib", nil)
	if err := r2.Attach(ctx, revived); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if got := string(revived.State()); got != `{"resumable":true}` {
		t.Errorf("State = %s after shutdown and reattach", got)
	}
}

func TestConnections_Filter(t *testing.T) {
	db := testDB(t)
	r := New(db)
	ctx := context.Background()

	rw := NewConn("rw", nil)
	ro := NewConn("ro", nil)
	if err := r.Attach(ctx, rw); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := r.Attach(ctx, ro); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := r.SetReadOnly(ctx, ro, true); err != nil {
		t.Fatalf("SetReadOnly failed: %v", err)
	}

	if got := len(r.Connections(ConnFilter{})); got != 2 {
		t.Errorf("unfiltered connections = %d, want 2", got)
	}

	wantRO := true
	got := r.Connections(ConnFilter{ReadOnly: &wantRO})
	if len(got) != 1 || got[0].ID != "ro" {
		t.Errorf("read-only filter returned %v", got)
	}

	got = r.Connections(ConnFilter{IDs: []string{"rw", "missing"}})
	if len(got) != 1 || got[0].ID != "rw" {
		t.Errorf("id filter returned %v", got)
	}
}

func TestBroadcast_ExcludesOrigin(t *testing.T) {
	db := testDB(t)
	r := New(db)
	ctx := context.Background()

	a := NewConn("a", nil)
	b := NewConn("b", nil)
	c := NewConn("c", nil)
	for _, conn := range []*Conn{a, b, c} {
		if err := r.Attach(ctx, conn); err != nil {
			t.Fatalf("Attach failed: %v", err)
		}
	}

	n := r.Broadcast(&StateFrame{Type: FrameState, State: []byte(`1`)}, "b")
	if n != 2 {
		t.Errorf("Broadcast sent to %d connections, want 2", n)
	}

	if len(a.sendCh) != 1 || len(c.sendCh) != 1 {
		t.Error("frame not queued to non-excluded connections")
	}
	if len(b.sendCh) != 0 {
		t.Error("frame queued to excluded connection")
	}
}

func TestDrain_ReturnsWhenIdle(t *testing.T) {
	r := New(testDB(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
}
