// Package store implements local persistence for the client: the SQLite
// credential store, an in-memory credential store, the JSONL snapshot
// cache and the token expiry check used before a silent reconnect.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// DatabaseFile is the credential database name inside the data directory.
const DatabaseFile = "coco.db"

// The credentials table holds at most one row.
const createCredentials = `CREATE TABLE IF NOT EXISTS credentials (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    token TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

// SQLite is a types.CredentialStore backed by a SQLite database in the
// data directory. It is not usable until Attach succeeds.
type SQLite struct {
	mu       sync.RWMutex
	attached bool
	db       *sql.DB
	now      func() time.Time
}

// NewSQLite returns a detached store.
func NewSQLite() *SQLite {
	return &SQLite{now: time.Now}
}

// Attach opens (creating if needed) the database under dataDir. Unlike the
// snapshot cache the database survives across runs.
// Returns ErrAlreadyAttached if already attached.
func (s *SQLite) Attach(dataDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attached {
		return types.ErrAlreadyAttached
	}
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, DatabaseFile))
	if err != nil {
		return fmt.Errorf("open credential database: %w", err)
	}
	// modernc handles are not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createCredentials); err != nil {
		db.Close()
		return fmt.Errorf("create credentials table: %w", err)
	}

	s.db = db
	s.attached = true
	return nil
}

// Detach closes the database. It is idempotent.
func (s *SQLite) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.attached = false
	return err
}

// Token returns the stored token or ErrNoToken.
func (s *SQLite) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return "", types.ErrStoreDetached
	}
	var token string
	err := s.db.QueryRow(`SELECT token FROM credentials WHERE id = 1`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", types.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// SetToken replaces the stored token. An empty token clears it.
func (s *SQLite) SetToken(token string) error {
	if token == "" {
		return s.ClearToken()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrStoreDetached
	}
	_, err := s.db.Exec(
		`INSERT INTO credentials (id, token, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		token, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// ClearToken removes the stored token. Clearing an empty store is not an
// error.
func (s *SQLite) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return types.ErrStoreDetached
	}
	if _, err := s.db.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// UpdatedAt returns when the token was last written.
func (s *SQLite) UpdatedAt() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.attached {
		return time.Time{}, types.ErrStoreDetached
	}
	var stamp string
	err := s.db.QueryRow(`SELECT updated_at FROM credentials WHERE id = 1`).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, types.ErrNoToken
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read token timestamp: %w", err)
	}
	return time.Parse(time.RFC3339, stamp)
}
