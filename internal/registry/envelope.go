package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/burrowlabs/burrow/internal/database"
)

// Envelope is the durable attachment carried alongside a socket. It holds
// the user-visible per-connection state and the read-only flag, and is what
// survives hibernation: the in-process connection object is disposable, the
// envelope is not. The read-only flag is internal and never exposed through
// the user-facing state accessors.
type Envelope struct {
	State    json.RawMessage `json:"state,omitempty"`
	ReadOnly bool            `json:"read_only"`
}

// EnvelopeStore persists envelopes keyed by connection id.
type EnvelopeStore struct {
	db *database.DB
}

// NewEnvelopeStore creates an envelope store over the instance database.
func NewEnvelopeStore(db *database.DB) *EnvelopeStore {
	return &EnvelopeStore{db: db}
}

// Save upserts the envelope for a connection id.
func (s *EnvelopeStore) Save(ctx context.Context, connID string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	query := `
		INSERT INTO connections (id, envelope, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET envelope = excluded.envelope, updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, connID, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving envelope: %w", err)
	}
	return nil
}

// Load returns the envelope for a connection id, or nil when none is stored.
func (s *EnvelopeStore) Load(ctx context.Context, connID string) (*Envelope, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT envelope FROM connections WHERE id = ?`, connID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading envelope: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	return &env, nil
}

// Delete removes the envelope for a connection id.
func (s *EnvelopeStore) Delete(ctx context.Context, connID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, connID); err != nil {
		return fmt.Errorf("deleting envelope: %w", err)
	}
	return nil
}
