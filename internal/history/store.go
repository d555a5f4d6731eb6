// Package history persists fragment outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GriffinCanCode/uiblocks/internal/engine"
)

// DefaultLimit caps List when no limit is given.
const DefaultLimit = 100

var ErrClosed = errors.New("history store is closed")

const schema = `
CREATE TABLE IF NOT EXISTS fragments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT    NOT NULL,
	fragment_id TEXT    NOT NULL,
	source      TEXT    NOT NULL,
	fingerprint TEXT    NOT NULL DEFAULT '',
	stage       TEXT    NOT NULL DEFAULT '',
	error       TEXT    NOT NULL DEFAULT '',
	steps       INTEGER NOT NULL DEFAULT 0,
	calls       INTEGER NOT NULL DEFAULT 0,
	duration_us INTEGER NOT NULL DEFAULT 0,
	at_ns       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fragments_session ON fragments (session_id, id);
`

// Entry is one stored fragment outcome.
type Entry struct {
	ID          int64         `json:"id"`
	SessionID   string        `json:"session_id"`
	FragmentID  string        `json:"fragment_id"`
	Source      string        `json:"source"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	Steps       int           `json:"steps"`
	Calls       int           `json:"calls"`
	Duration    time.Duration `json:"duration_ns"`
	At          time.Time     `json:"at"`
}

// OK reports whether the fragment ran to completion.
func (e Entry) OK() bool { return e.Error == "" }

// Store is an engine.Recorder backed by SQLite.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing history database: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Record implements engine.Recorder.
func (s *Store) Record(ctx context.Context, rec engine.Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	stage := ""
	if rec.Error != "" {
		stage = rec.Stage.Label()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fragments
			(session_id, fragment_id, source, fingerprint, stage, error, steps, calls, duration_us, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.FragmentID, rec.Source, rec.Fingerprint, stage, rec.Error,
		rec.Steps, rec.Calls, rec.Duration.Microseconds(), rec.At.UnixNano())
	if err != nil {
		return fmt.Errorf("recording fragment %s: %w", rec.FragmentID, err)
	}
	return nil
}

// List returns the latest limit entries of a session, oldest first.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, fragment_id, source, fingerprint, stage, error, steps, calls, duration_us, at_ns
		FROM fragments
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			us, ns int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FragmentID, &e.Source, &e.Fingerprint,
			&e.Stage, &e.Error, &e.Steps, &e.Calls, &us, &ns); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Duration = time.Duration(us) * time.Microsecond
		e.At = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Delete removes every entry of a session.
func (s *Store) Delete(ctx context.Context, sessionID string) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("deleting history of %s: %w", sessionID, err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
