package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/metrics"
	_ "modernc.org/sqlite"
)

// SQLite keeps all profiles in one kv_store table.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// InitDB opens the database file and checks it is reachable.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc sqlite serialises writers anyway, one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// CreateTables ensures the schema exists.
func CreateTables(db *sql.DB) error {
	queries := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS kv_store (
			profile TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (profile, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_store_updated ON kv_store(updated_at)`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// OpenSQLite opens dbPath and prepares the schema.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := InitDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := CreateTables(db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info(logger.AreaStorage, "SQLite store ready at %s", dbPath)
	return &SQLite{db: db}, nil
}

// ForProfile returns the store bound to one profile.
func (s *SQLite) ForProfile(profile string) Store {
	return &sqliteProfile{s: s, profile: profile}
}

// Profiles lists every profile that has at least one key.
func (s *SQLite) Profiles() ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.Query(`SELECT DISTINCT profile FROM kv_store ORDER BY profile`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database. Later calls on any profile return ErrClosed.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

type sqliteProfile struct {
	s       *SQLite
	profile string
}

func (p *sqliteProfile) Get(key string) (string, bool, error) {
	if p.s.closed.Load() {
		return "", false, fmt.Errorf("get %s: %w", key, ErrClosed)
	}
	var value string
	err := p.s.db.QueryRow(`SELECT value FROM kv_store WHERE profile = ? AND key = ?`, p.profile, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (p *sqliteProfile) Set(key, value string) error {
	if p.s.closed.Load() {
		return fmt.Errorf("set %s: %w", key, ErrClosed)
	}
	_, err := p.s.db.Exec(`INSERT INTO kv_store (profile, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(profile, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		p.profile, key, value, time.Now().Unix())
	metrics.ObserveStoreWrite("set", err)
	if err != nil {
		logger.Error(logger.AreaStorage, "Failed to write %s for profile %s: %v", key, p.profile, err)
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (p *sqliteProfile) Remove(key string) error {
	if p.s.closed.Load() {
		return fmt.Errorf("remove %s: %w", key, ErrClosed)
	}
	_, err := p.s.db.Exec(`DELETE FROM kv_store WHERE profile = ? AND key = ?`, p.profile, key)
	metrics.ObserveStoreWrite("remove", err)
	if err != nil {
		logger.Error(logger.AreaStorage, "Failed to remove %s for profile %s: %v", key, p.profile, err)
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
