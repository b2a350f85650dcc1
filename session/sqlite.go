package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a durable Store backed by SQLite. By default it uses an
// in-memory database that is lost when the process ends; pass a file path
// for persistence across restarts.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// SQLiteStoreOptions configures a SQLiteStore.
type SQLiteStoreOptions struct {
	// DataSourceName is the SQLite DSN. Defaults to a shared in-memory
	// database.
	DataSourceName string
}

// NewSQLiteStore opens (or creates) the backing database and ensures the
// sessions table exists.
func NewSQLiteStore(optFns ...func(o *SQLiteStoreOptions)) (*SQLiteStore, error) {
	opts := SQLiteStoreOptions{
		DataSourceName: "file::memory:?cache=shared",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite3", opts.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("init sqlite store: %w", err)
	}
	return nil
}

// Get returns the stored state for a session id. Expired rows are treated as
// absent and removed lazily.
func (s *SQLiteStore) Get(sessionID string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT state, expires_at FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	if expiresAt > 0 && s.now().Unix() > expiresAt {
		_, _ = s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
		return State{}, false, nil
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return State{}, false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return state, true, nil
}

// Set stores a state snapshot with last-writer-wins semantics.
func (s *SQLiteStore) Set(sessionID string, state State, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_id, state, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sessionID, string(raw), expiresAt, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set session %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes a session if present.
func (s *SQLiteStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the backing database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
