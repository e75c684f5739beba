package scheduler

import (
	"context"

	"github.com/rs/zerolog/log"
)

// heartbeatCallback is the reserved callback name for keep-alive schedules.
const heartbeatCallback = "__heartbeat"

// KeepAlive starts an independent heartbeat schedule firing every
// intervalSeconds and returns a disposer that cancels exactly that schedule.
// Concurrent starts stack; each creates its own schedule.
func (s *Scheduler) KeepAlive(ctx context.Context, intervalSeconds int64) (func(), error) {
	schedule, err := s.ScheduleEvery(ctx, intervalSeconds, heartbeatCallback)
	if err != nil {
		return nil, err
	}

	s.heartbeatMu.Lock()
	s.heartbeatStack = append(s.heartbeatStack, schedule.ID)
	s.heartbeatMu.Unlock()

	log.Debug().Str("schedule_id", schedule.ID).Msg("Keep-alive started")

	return func() {
		s.removeHeartbeat(schedule.ID)
		s.CancelSchedule(context.Background(), schedule.ID)
	}, nil
}

// StopKeepAlive cancels the most recently started heartbeat schedule.
// Calls beyond zero active heartbeats are no-ops.
func (s *Scheduler) StopKeepAlive(ctx context.Context) bool {
	s.heartbeatMu.Lock()
	n := len(s.heartbeatStack)
	if n == 0 {
		s.heartbeatMu.Unlock()
		return false
	}
	id := s.heartbeatStack[n-1]
	s.heartbeatStack = s.heartbeatStack[:n-1]
	s.heartbeatMu.Unlock()

	return s.CancelSchedule(ctx, id)
}

// ActiveKeepAlives reports how many heartbeat schedules are stacked.
func (s *Scheduler) ActiveKeepAlives() int {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	return len(s.heartbeatStack)
}

func (s *Scheduler) removeHeartbeat(scheduleID string) {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()

	for i := len(s.heartbeatStack) - 1; i >= 0; i-- {
		if s.heartbeatStack[i] == scheduleID {
			s.heartbeatStack = append(s.heartbeatStack[:i], s.heartbeatStack[i+1:]...)
			return
		}
	}
}
