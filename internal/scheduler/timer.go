package scheduler

import (
	"sync"
	"time"
)

// WakeTimer is the single per-instance alarm, coalesced to the earliest
// requested wake time. Arming it for a later time than the current arm is a
// no-op; arming earlier re-arms.
type WakeTimer struct {
	mu    sync.Mutex
	timer *time.Timer
	armed time.Time
	c     chan time.Time
}

// NewWakeTimer creates an unarmed wake timer.
func NewWakeTimer() *WakeTimer {
	return &WakeTimer{
		c: make(chan time.Time, 1),
	}
}

// C delivers a tick when the alarm fires. The channel has capacity one;
// pending ticks coalesce.
func (w *WakeTimer) C() <-chan time.Time {
	return w.c
}

// Reset arms the alarm for t if it is unarmed or armed for a later time.
func (w *WakeTimer) Reset(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		if !w.armed.IsZero() && !t.Before(w.armed) {
			return
		}
		w.timer.Stop()
	}

	w.armed = t
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	w.timer = time.AfterFunc(d, w.fire)
}

// Stop disarms the alarm.
func (w *WakeTimer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = time.Time{}
}

func (w *WakeTimer) fire() {
	w.mu.Lock()
	w.armed = time.Time{}
	w.timer = nil
	w.mu.Unlock()

	select {
	case w.c <- time.Now():
	default:
	}
}
