// Package scheduler implements the persisted scheduler: durable schedule
// rows, a coalesced wake timer, bounded retries with backoff, and recovery
// of executions abandoned by an evicted process.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowlabs/burrow/internal/database"
	"github.com/burrowlabs/burrow/internal/events"
	"github.com/burrowlabs/burrow/internal/metrics"
)

const dueBatchSize = 100

// Config holds scheduler tuning.
type Config struct {
	// HangThreshold is how old a running execution's start time must be
	// before the schedule is treated as abandoned and retried.
	HangThreshold time.Duration

	// MaxAttempts bounds retries of a failing callback.
	MaxAttempts int

	// PollInterval is the floor on how often due schedules are checked,
	// independent of the wake timer.
	PollInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.HangThreshold == 0 {
		c.HangThreshold = 5 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
}

// Scheduler manages persisted scheduled callbacks for one actor instance.
type Scheduler struct {
	store *Store
	sink  events.Sink
	cfg   Config

	parser *CronParser
	timer  *WakeTimer

	callbacksMu sync.RWMutex
	callbacks   map[string]Callback

	// in-flight executions by schedule id; guarantees a given id never
	// runs twice concurrently within this process
	runningMu sync.Mutex
	running   map[string]struct{}

	heartbeatMu    sync.Mutex
	heartbeatStack []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler over the instance store.
func New(db *database.DB, sink events.Sink, cfg Config) *Scheduler {
	cfg.withDefaults()
	if sink == nil {
		sink = events.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		store:     NewStore(db),
		sink:      sink,
		cfg:       cfg,
		parser:    NewCronParser(),
		timer:     NewWakeTimer(),
		callbacks: make(map[string]Callback),
		running:   make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	// Keep-alive schedules need a target even when the actor registers
	// nothing; firing alone is what keeps the instance resident.
	s.RegisterCallback(heartbeatCallback, func(context.Context, json.RawMessage, *Schedule) error {
		return nil
	})

	return s
}

// RegisterCallback binds a name to a callback. Schedules referencing an
// unregistered name fail their firings and are retried up to the bound.
func (s *Scheduler) RegisterCallback(name string, cb Callback) {
	s.callbacksMu.Lock()
	defer s.callbacksMu.Unlock()
	s.callbacks[name] = cb
}

// Start begins background processing.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()

	log.Debug().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("hang_threshold", s.cfg.HangThreshold).
		Msg("Scheduler started")
}

// Stop shuts the scheduler down, waiting for in-flight executions.
func (s *Scheduler) Stop() {
	s.cancel()
	s.timer.Stop()
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.timer.C():
		case <-ticker.C:
		}

		if err := s.ProcessDue(s.ctx); err != nil {
			log.Error().Err(err).Msg("Failed to process due schedules")
		}
	}
}

// Schedule creates a one-shot or cron schedule firing the named callback.
func (s *Scheduler) Schedule(ctx context.Context, when When, callback string, payload any) (*Schedule, error) {
	schedule := &Schedule{
		Callback: callback,
		Timezone: "UTC",
	}

	switch {
	case when.Cron != "":
		schedule.Type = ScheduleTypeCron
		schedule.CronExpr = when.Cron
		next, err := s.parser.NextRun(when.Cron, schedule.Timezone, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		schedule.DueAt = &next

	case !when.At.IsZero():
		schedule.Type = ScheduleTypeScheduled
		at := when.At.UTC()
		schedule.DueAt = &at

	case when.Delay > 0:
		schedule.Type = ScheduleTypeDelayed
		at := time.Now().UTC().Add(when.Delay)
		schedule.DueAt = &at

	default:
		return nil, fmt.Errorf("schedule needs a delay, a time, or a cron expression")
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling payload: %w", err)
		}
		schedule.Payload = data
	}

	if err := s.store.Create(ctx, schedule); err != nil {
		return nil, err
	}

	s.sink.Emit("schedule-queue:created", map[string]any{
		"schedule_id": schedule.ID,
		"callback":    schedule.Callback,
		"type":        string(schedule.Type),
	})

	s.timer.Reset(*schedule.DueAt)
	return schedule, nil
}

// ScheduleEvery creates an interval schedule firing every intervalSeconds.
func (s *Scheduler) ScheduleEvery(ctx context.Context, intervalSeconds int64, callback string) (*Schedule, error) {
	if intervalSeconds < 1 {
		return nil, fmt.Errorf("interval must be at least one second")
	}

	due := time.Now().UTC().Add(time.Duration(intervalSeconds) * time.Second)
	schedule := &Schedule{
		Callback:        callback,
		Type:            ScheduleTypeInterval,
		IntervalSeconds: intervalSeconds,
		Timezone:        "UTC",
		DueAt:           &due,
	}

	if err := s.store.Create(ctx, schedule); err != nil {
		return nil, err
	}

	s.sink.Emit("schedule-queue:created", map[string]any{
		"schedule_id": schedule.ID,
		"callback":    schedule.Callback,
		"type":        string(schedule.Type),
	})

	s.timer.Reset(due)
	return schedule, nil
}

// CancelSchedule deletes a schedule, reporting whether it existed.
func (s *Scheduler) CancelSchedule(ctx context.Context, scheduleID string) bool {
	existed, err := s.store.Delete(ctx, scheduleID)
	if err != nil {
		log.Error().Err(err).Str("schedule_id", scheduleID).Msg("Failed to cancel schedule")
		return false
	}
	if existed {
		s.sink.Emit("schedule-queue:cancelled", map[string]any{"schedule_id": scheduleID})
	}
	return existed
}

// GetSchedule retrieves a schedule by ID.
func (s *Scheduler) GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	return s.store.Get(ctx, scheduleID)
}

// GetSchedules retrieves schedules matching the filter.
func (s *Scheduler) GetSchedules(ctx context.Context, filter Filter) ([]*Schedule, error) {
	return s.store.List(ctx, filter)
}

// ProcessDue runs every eligible schedule: those due and idle, plus those
// whose in-flight execution is older than the hang threshold (or has no
// recorded start, on rows written before the staleness check existed).
// Distinct ids execute concurrently; the same id never does.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	now := time.Now().UTC()

	due, err := s.store.GetDue(ctx, now, s.cfg.HangThreshold, dueBatchSize)
	if err != nil {
		return fmt.Errorf("getting due schedules: %w", err)
	}

	var wg sync.WaitGroup
	for _, schedule := range due {
		if !s.acquire(schedule.ID) {
			continue
		}

		wg.Add(1)
		go func(schedule *Schedule) {
			defer wg.Done()
			defer s.release(schedule.ID)
			s.execute(ctx, schedule)
		}(schedule)
	}
	wg.Wait()

	s.rearm(ctx)
	return nil
}

func (s *Scheduler) execute(ctx context.Context, schedule *Schedule) {
	now := time.Now().UTC()

	if schedule.Running {
		log.Warn().
			Str("schedule_id", schedule.ID).
			Str("callback", schedule.Callback).
			Msg("Retrying abandoned schedule execution")
	}

	if err := s.store.MarkRunning(ctx, schedule.ID, now); err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to mark schedule running")
		return
	}

	err := s.invoke(ctx, schedule)
	if err == nil {
		s.complete(ctx, schedule)
		return
	}
	s.fail(ctx, schedule, err)
}

// invoke runs the named callback, converting panics into errors so one
// schedule's failure never aborts the rest of the due set.
func (s *Scheduler) invoke(ctx context.Context, schedule *Schedule) (err error) {
	s.callbacksMu.RLock()
	cb, ok := s.callbacks[schedule.Callback]
	s.callbacksMu.RUnlock()

	if !ok {
		return fmt.Errorf("no callback registered for %q", schedule.Callback)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback %q panicked: %v", schedule.Callback, r)
		}
	}()

	return cb(ctx, schedule.Payload, schedule)
}

func (s *Scheduler) complete(ctx context.Context, schedule *Schedule) {
	metrics.ScheduleExecutionsTotal.Inc()
	s.sink.Emit("schedule-queue:executed", map[string]any{
		"schedule_id": schedule.ID,
		"callback":    schedule.Callback,
	})

	if schedule.Type.OneShot() {
		if _, err := s.store.Delete(ctx, schedule.ID); err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to delete completed schedule")
		}
		return
	}

	next, err := nextDue(schedule, s.parser, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to compute next due time")
		return
	}
	if err := s.store.Reschedule(ctx, schedule.ID, next, 0); err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to reschedule")
		return
	}
	s.timer.Reset(next)
}

func (s *Scheduler) fail(ctx context.Context, schedule *Schedule, cause error) {
	metrics.ScheduleFailuresTotal.Inc()
	attempts := schedule.AttemptCount + 1

	log.Error().
		Err(cause).
		Str("schedule_id", schedule.ID).
		Str("callback", schedule.Callback).
		Int("attempt", attempts).
		Msg("Scheduled callback failed")

	if attempts < s.cfg.MaxAttempts {
		retryAt := time.Now().UTC().Add(backoffDelay(attempts))
		s.sink.Emit("schedule-queue:retry", map[string]any{
			"schedule_id": schedule.ID,
			"callback":    schedule.Callback,
			"attempt":     attempts,
			"error":       cause.Error(),
		})
		if err := s.store.Reschedule(ctx, schedule.ID, retryAt, attempts); err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to persist retry")
			return
		}
		s.timer.Reset(retryAt)
		return
	}

	s.sink.Emit("schedule-queue:error", map[string]any{
		"schedule_id": schedule.ID,
		"callback":    schedule.Callback,
		"attempt":     attempts,
		"error":       cause.Error(),
	})

	if schedule.Type.OneShot() {
		if _, err := s.store.Delete(ctx, schedule.ID); err != nil {
			log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to delete exhausted schedule")
		}
		return
	}

	// Interval and cron schedules resume on their next natural firing with
	// the attempt count reset.
	next, err := nextDue(schedule, s.parser, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to compute next due time")
		return
	}
	if err := s.store.Reschedule(ctx, schedule.ID, next, 0); err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to reschedule after exhausted retries")
		return
	}
	s.timer.Reset(next)
}

// rearm points the wake timer at the earliest remaining due time.
func (s *Scheduler) rearm(ctx context.Context) {
	next, err := s.store.NextDue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query next due time")
		return
	}
	if next != nil {
		s.timer.Reset(*next)
	}
}

func (s *Scheduler) acquire(scheduleID string) bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if _, inFlight := s.running[scheduleID]; inFlight {
		return false
	}
	s.running[scheduleID] = struct{}{}
	return true
}

func (s *Scheduler) release(scheduleID string) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	delete(s.running, scheduleID)
}

// backoffDelay is exponential: 1s, 2s, 4s... capped at 60s.
func backoffDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	d := 1 << (attempts - 1)
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}
