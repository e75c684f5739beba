package statesync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/burrowlabs/burrow/internal/database"
)

// stateStore persists the single actor state row. The `initialized` column
// is the explicit marker distinguishing "never initialized" from
// "initialized to an empty or absent value" — value identity alone cannot
// tell those apart.
type stateStore struct {
	db *database.DB
}

func newStateStore(db *database.DB) *stateStore {
	return &stateStore{db: db}
}

// Save upserts the state value and marks the row initialized. A nil value
// records initialized-to-absent.
func (s *stateStore) Save(ctx context.Context, value []byte) error {
	var val sql.NullString
	if value != nil {
		val = sql.NullString{String: string(value), Valid: true}
	}

	query := `
		INSERT INTO actor_state (slot, value, initialized, updated_at)
		VALUES ('state', ?, 1, ?)
		ON CONFLICT(slot) DO UPDATE SET value = excluded.value, initialized = 1, updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, val, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("saving actor state: %w", err)
	}
	return nil
}

// Load returns the stored value and whether the row has ever been
// initialized. A missing row returns (nil, false, nil).
func (s *stateStore) Load(ctx context.Context) (value []byte, initialized bool, err error) {
	var val sql.NullString
	var init int

	err = s.db.QueryRowContext(ctx, `SELECT value, initialized FROM actor_state WHERE slot = 'state'`).Scan(&val, &init)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading actor state: %w", err)
	}

	if val.Valid {
		value = []byte(val.String)
	}
	return value, init == 1, nil
}
