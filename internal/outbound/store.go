package outbound

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/burrowlabs/burrow/internal/database"
)

// ServerRow is the persisted record of one remote capability server.
type ServerRow struct {
	ServerID    string
	URL         string
	ClientID    string
	AuthURL     string
	CallbackURL string
	State       ConnState
}

// Store persists outbound server rows keyed by server id.
type Store struct {
	db *database.DB
}

// NewStore creates a store over the instance database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Save upserts a server row.
func (s *Store) Save(ctx context.Context, row *ServerRow) error {
	query := `
		INSERT INTO outbound_servers (server_id, url, client_id, auth_url, callback_url, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			url = excluded.url,
			client_id = excluded.client_id,
			auth_url = excluded.auth_url,
			callback_url = excluded.callback_url,
			state = excluded.state,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		row.ServerID,
		row.URL,
		nullable(row.ClientID),
		nullable(row.AuthURL),
		nullable(row.CallbackURL),
		string(row.State),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving outbound server: %w", err)
	}
	return nil
}

// UpdateState persists a state transition.
func (s *Store) UpdateState(ctx context.Context, serverID string, state ConnState) error {
	query := `UPDATE outbound_servers SET state = ?, updated_at = ? WHERE server_id = ?`

	_, err := s.db.ExecContext(ctx, query, string(state), time.Now().UTC().Format(time.RFC3339), serverID)
	if err != nil {
		return fmt.Errorf("updating outbound server state: %w", err)
	}
	return nil
}

// Get returns one server row, or nil when the id is unknown.
func (s *Store) Get(ctx context.Context, serverID string) (*ServerRow, error) {
	query := `SELECT server_id, url, client_id, auth_url, callback_url, state FROM outbound_servers WHERE server_id = ?`

	row, err := scanServer(s.db.QueryRowContext(ctx, query, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting outbound server: %w", err)
	}
	return row, nil
}

// List returns all persisted server rows.
func (s *Store) List(ctx context.Context) ([]*ServerRow, error) {
	query := `SELECT server_id, url, client_id, auth_url, callback_url, state FROM outbound_servers ORDER BY server_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing outbound servers: %w", err)
	}
	defer rows.Close()

	var servers []*ServerRow
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning outbound server: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// Delete removes a server row.
func (s *Store) Delete(ctx context.Context, serverID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbound_servers WHERE server_id = ?`, serverID); err != nil {
		return fmt.Errorf("deleting outbound server: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*ServerRow, error) {
	var server ServerRow
	var clientID, authURL, callbackURL sql.NullString
	var state string

	if err := row.Scan(&server.ServerID, &server.URL, &clientID, &authURL, &callbackURL, &state); err != nil {
		return nil, err
	}

	server.ClientID = clientID.String
	server.AuthURL = authURL.String
	server.CallbackURL = callbackURL.String
	server.State = ConnState(state)
	return &server, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
