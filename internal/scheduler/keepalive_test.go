package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestKeepAlive_Stacks(t *testing.T) {
	s, _ := testScheduler(t, Config{})
	ctx := context.Background()

	dispose1, err := s.KeepAlive(ctx, 30)
	if err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}
	dispose2, err := s.KeepAlive(ctx, 30)
	if err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}

	if got := s.ActiveKeepAlives(); got != 2 {
		t.Errorf("ActiveKeepAlives = %d, want 2", got)
	}

	schedules, err := s.GetSchedules(ctx, Filter{Type: ScheduleTypeInterval})
	if err != nil {
		t.Fatalf("GetSchedules failed: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("interval schedules = %d, want 2", len(schedules))
	}
	for _, sc := range schedules {
		if sc.Callback != heartbeatCallback {
			t.Errorf("Callback = %q, want %q", sc.Callback, heartbeatCallback)
		}
	}

	dispose1()
	if got := s.ActiveKeepAlives(); got != 1 {
		t.Errorf("ActiveKeepAlives after dispose = %d, want 1", got)
	}

	dispose2()
	if got := s.ActiveKeepAlives(); got != 0 {
		t.Errorf("ActiveKeepAlives after both disposed = %d, want 0", got)
	}

	schedules, err = s.GetSchedules(ctx, Filter{Type: ScheduleTypeInterval})
	if err != nil {
		t.Fatalf("GetSchedules failed: %v", err)
	}
	if len(schedules) != 0 {
		t.Errorf("interval schedules after dispose = %d, want 0", len(schedules))
	}
}

func TestKeepAlive_DisposerCancelsOnlyItsSchedule(t *testing.T) {
	s, _ := testScheduler(t, Config{})
	ctx := context.Background()

	dispose1, err := s.KeepAlive(ctx, 10)
	if err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}
	if _, err := s.KeepAlive(ctx, 20); err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}

	dispose1()
	dispose1() // double dispose is harmless

	schedules, err := s.GetSchedules(ctx, Filter{Type: ScheduleTypeInterval})
	if err != nil {
		t.Fatalf("GetSchedules failed: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("interval schedules = %d, want 1", len(schedules))
	}
	if schedules[0].IntervalSeconds != 20 {
		t.Errorf("surviving interval = %d, want 20", schedules[0].IntervalSeconds)
	}
}

func TestStopKeepAlive_PopsMostRecent(t *testing.T) {
	s, _ := testScheduler(t, Config{})
	ctx := context.Background()

	if _, err := s.KeepAlive(ctx, 10); err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}
	if _, err := s.KeepAlive(ctx, 20); err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}

	if !s.StopKeepAlive(ctx) {
		t.Error("StopKeepAlive = false with active heartbeats")
	}

	schedules, err := s.GetSchedules(ctx, Filter{Type: ScheduleTypeInterval})
	if err != nil {
		t.Fatalf("GetSchedules failed: %v", err)
	}
	if len(schedules) != 1 || schedules[0].IntervalSeconds != 10 {
		t.Errorf("expected the older heartbeat to survive, got %+v", schedules)
	}

	if !s.StopKeepAlive(ctx) {
		t.Error("StopKeepAlive = false with one active heartbeat")
	}
	if s.StopKeepAlive(ctx) {
		t.Error("StopKeepAlive = true with no active heartbeats")
	}
}

func TestWakeTimer_EarlierWins(t *testing.T) {
	timer := NewWakeTimer()
	defer timer.Stop()

	timer.Reset(time.Now().Add(time.Hour))
	timer.Reset(time.Now().Add(20 * time.Millisecond))

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire for the earlier deadline")
	}
}

func TestWakeTimer_LaterDoesNotPostpone(t *testing.T) {
	timer := NewWakeTimer()
	defer timer.Stop()

	timer.Reset(time.Now().Add(20 * time.Millisecond))
	timer.Reset(time.Now().Add(time.Hour))

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("later Reset postponed an armed earlier deadline")
	}
}
