package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Persister keeps the current session across restarts. Load returns
// (nil, nil) when nothing is stored.
type Persister interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context) error
}

// FilePersister stores the session as JSON in a single file readable only
// by the owner
type FilePersister struct {
	path string
}

// NewFilePersister stores the session at path
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load reads the session file
func (p *FilePersister) Load(ctx context.Context) (*Session, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return &sess, nil
}

// Save writes sess to a temp file and renames it over the session file
func (p *FilePersister) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Delete removes the session file; a missing file is not an error
func (p *FilePersister) Delete(ctx context.Context) error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// SessionTableSchema creates the table used by SQLPersister. It is valid
// for both PostgreSQL and SQLite.
const SessionTableSchema = `
CREATE TABLE IF NOT EXISTS authd_sessions (
	slot       TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// DefaultSlot is the row used when a process keeps one session
const DefaultSlot = "default"

// SQLPersister stores the session as a single row keyed by slot
type SQLPersister struct {
	db   *sql.DB
	slot string
	now  func() time.Time
}

// NewSQLPersister stores the session in the row named slot
func NewSQLPersister(db *sql.DB, slot string) *SQLPersister {
	if slot == "" {
		slot = DefaultSlot
	}
	return &SQLPersister{db: db, slot: slot, now: time.Now}
}

// EnsureSchema creates the session table if it does not exist
func (p *SQLPersister) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, SessionTableSchema); err != nil {
		return fmt.Errorf("failed to create session table: %w", err)
	}
	return nil
}

// Load reads the slot's row
func (p *SQLPersister) Load(ctx context.Context) (*Session, error) {
	var payload string
	err := p.db.QueryRowContext(ctx,
		"SELECT payload FROM authd_sessions WHERE slot = $1", p.slot,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// Save upserts the slot's row
func (p *SQLPersister) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	query := `
		INSERT INTO authd_sessions (slot, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slot) DO UPDATE
		SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	if _, err := p.db.ExecContext(ctx, query, p.slot, string(data), sess.ExpiresAt, p.now()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes the slot's row
func (p *SQLPersister) Delete(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM authd_sessions WHERE slot = $1", p.slot); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
