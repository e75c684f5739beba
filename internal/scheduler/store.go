package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/burrowlabs/burrow/internal/database"
)

// ErrNotFound is returned when a schedule id has no row.
var ErrNotFound = errors.New("schedule not found")

// Store handles database operations for schedules.
type Store struct {
	db *database.DB
}

// NewStore creates a new schedule store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `id, callback, type, payload, due_at, interval_seconds, cron_expr, timezone, running, execution_started_at, attempt_count, created_at, updated_at`

// Create inserts a new schedule.
func (s *Store) Create(ctx context.Context, schedule *Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = now
	}
	if schedule.Timezone == "" {
		schedule.Timezone = "UTC"
	}

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.Callback,
		string(schedule.Type),
		nullableString(string(schedule.Payload)),
		nullableTime(schedule.DueAt),
		schedule.IntervalSeconds,
		nullableString(schedule.CronExpr),
		schedule.Timezone,
		boolToInt(schedule.Running),
		nullableTime(schedule.ExecutionStartedAt),
		schedule.AttemptCount,
		schedule.CreatedAt.UTC().Format(time.RFC3339),
		schedule.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}

	return nil
}

// Get retrieves a schedule by ID.
func (s *Store) Get(ctx context.Context, scheduleID string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, scheduleID)

	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, scheduleID)
		}
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	return schedule, nil
}

// List retrieves schedules matching the filter, soonest due first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Schedule, error) {
	var conds []string
	var args []any

	if len(filter.IDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.IDs)), ",")
		conds = append(conds, "id IN ("+placeholders+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.Before.IsZero() {
		conds = append(conds, "due_at < ?")
		args = append(args, filter.Before.UTC().Format(time.RFC3339))
	}
	if !filter.After.IsZero() {
		conds = append(conds, "due_at >= ?")
		args = append(args, filter.After.UTC().Format(time.RFC3339))
	}

	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY due_at ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// GetDue retrieves schedules eligible for execution: due and not running,
// or running with an execution start older than the hang threshold. Legacy
// rows with running=1 and no recorded start predate the staleness check and
// are treated as hung.
func (s *Store) GetDue(ctx context.Context, now time.Time, hangThreshold time.Duration, limit int) ([]*Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE (running = 0 AND due_at IS NOT NULL AND due_at <= ?)
		   OR (running = 1 AND (execution_started_at IS NULL OR execution_started_at <= ?))
		ORDER BY due_at ASC
		LIMIT ?
	`

	nowStr := now.UTC().Format(time.RFC3339)
	staleStr := now.Add(-hangThreshold).UTC().Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx, query, nowStr, staleStr, limit)
	if err != nil {
		return nil, fmt.Errorf("querying due schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// NextDue returns the earliest pending due time, or nil when nothing is queued.
func (s *Store) NextDue(ctx context.Context) (*time.Time, error) {
	query := `
		SELECT due_at FROM schedules
		WHERE running = 0 AND due_at IS NOT NULL
		ORDER BY due_at ASC
		LIMIT 1
	`

	var dueStr string
	err := s.db.QueryRowContext(ctx, query).Scan(&dueStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying next due: %w", err)
	}

	due, err := time.Parse(time.RFC3339, dueStr)
	if err != nil {
		return nil, fmt.Errorf("parsing due_at: %w", err)
	}
	return &due, nil
}

// MarkRunning records the start of an execution.
func (s *Store) MarkRunning(ctx context.Context, scheduleID string, startedAt time.Time) error {
	query := `
		UPDATE schedules
		SET running = 1, execution_started_at = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		startedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		scheduleID,
	)
	if err != nil {
		return fmt.Errorf("marking schedule running: %w", err)
	}

	return nil
}

// Reschedule clears the running flag and sets the next due time and attempt count.
func (s *Store) Reschedule(ctx context.Context, scheduleID string, dueAt time.Time, attempts int) error {
	query := `
		UPDATE schedules
		SET running = 0, execution_started_at = NULL, due_at = ?, attempt_count = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		dueAt.UTC().Format(time.RFC3339),
		attempts,
		time.Now().UTC().Format(time.RFC3339),
		scheduleID,
	)
	if err != nil {
		return fmt.Errorf("rescheduling: %w", err)
	}

	return nil
}

// Delete removes a schedule, reporting whether a row existed.
func (s *Store) Delete(ctx context.Context, scheduleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, scheduleID)
	if err != nil {
		return false, fmt.Errorf("deleting schedule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting schedule: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduleFrom(row rowScanner) (*Schedule, error) {
	var schedule Schedule
	var scheduleType string
	var payload, dueAt, cronExpr, startedAt sql.NullString
	var intervalSeconds sql.NullInt64
	var running int
	var createdAt, updatedAt string

	err := row.Scan(
		&schedule.ID,
		&schedule.Callback,
		&scheduleType,
		&payload,
		&dueAt,
		&intervalSeconds,
		&cronExpr,
		&schedule.Timezone,
		&running,
		&startedAt,
		&schedule.AttemptCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Type = ScheduleType(scheduleType)
	schedule.Running = running == 1
	if payload.Valid {
		schedule.Payload = []byte(payload.String)
	}
	if cronExpr.Valid {
		schedule.CronExpr = cronExpr.String
	}
	if intervalSeconds.Valid {
		schedule.IntervalSeconds = intervalSeconds.Int64
	}

	if dueAt.Valid {
		t, parseErr := time.Parse(time.RFC3339, dueAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing due_at: %w", parseErr)
		}
		schedule.DueAt = &t
	}
	if startedAt.Valid {
		t, parseErr := time.Parse(time.RFC3339, startedAt.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing execution_started_at: %w", parseErr)
		}
		schedule.ExecutionStartedAt = &t
	}

	createdAtTime, parseErr := time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	schedule.CreatedAt = createdAtTime

	updatedAtTime, parseErr := time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	schedule.UpdatedAt = updatedAtTime

	return &schedule, nil
}

func scanSchedule(row *sql.Row) (*Schedule, error) {
	return scanScheduleFrom(row)
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule

	for rows.Next() {
		schedule, err := scanScheduleFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule rows: %w", err)
	}

	return schedules, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
