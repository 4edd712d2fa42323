package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go SQLite driver and the default.
	DriverModernc = "sqlite"
	// DriverCGO is the cgo SQLite driver.
	DriverCGO = "sqlite3"
)

// SQLiteStore implements Store on a single SQLite table.
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	driver string
	mu     sync.RWMutex
}

// Compile-time verification that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteOption configures OpenSQLite.
type SQLiteOption func(*SQLiteStore)

// WithDriver selects the database/sql driver ("sqlite" or "sqlite3").
func WithDriver(name string) SQLiteOption {
	return func(s *SQLiteStore) {
		if name != "" {
			s.driver = name
		}
	}
}

// DefaultSQLitePath returns the path of the shared checkpoint database.
func DefaultSQLitePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "hopper", "hopper.db")
}

// OpenSQLite opens an SQLite database at the given path and applies migrations.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{path: path, driver: DriverModernc}
	for _, opt := range opts {
		opt(s)
	}
	if s.driver != DriverModernc && s.driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", s.driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s.conn = conn
	if err := s.Migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Driver returns the database/sql driver in use.
func (s *SQLiteStore) Driver() string {
	return s.driver
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Entries},
		{2, migrationV2UpdatedIndex},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Entries = `
CREATE TABLE IF NOT EXISTS entries (
	path TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const migrationV2UpdatedIndex = `
CREATE INDEX IF NOT EXISTS idx_entries_updated_at ON entries(updated_at);
`

// Put writes data at p.
func (s *SQLiteStore) Put(ctx context.Context, p string, data []byte) error {
	p, err := cleanPath(p)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO entries (path, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, p, data, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

// Get reads the value at p.
func (s *SQLiteStore) Get(ctx context.Context, p string) ([]byte, error) {
	p, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err = s.conn.QueryRowContext(ctx, "SELECT data FROM entries WHERE path = ?", p).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return data, nil
}

// List returns the stored paths starting with prefix.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT path FROM entries WHERE substr(path, 1, length(?1)) = ?1 ORDER BY path
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// RemoveAll deletes the stored paths starting with prefix.
func (s *SQLiteStore) RemoveAll(ctx context.Context, prefix string) error {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE substr(path, 1, length(?1)) = ?1", prefix); err != nil {
			return fmt.Errorf("remove %s: %w", prefix, err)
		}
		return nil
	})
}

// PurgeOlderThan deletes entries not written within olderThan.
// Returns the number of entries deleted.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.conn.ExecContext(ctx, "DELETE FROM entries WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old entries: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// Transaction runs the given function within a transaction.
func (s *SQLiteStore) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
