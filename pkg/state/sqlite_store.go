package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a single-row SQLite table. The whole
// record is replaced inside one transaction, which gives the atomic
// whole-record replacement the contract requires.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path string
}

// NewSQLiteStore opens (or creates) the state database at cfg.Path, enables
// WAL mode, and runs migrations.
func NewSQLiteStore(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The store is touched by at most a handful of goroutines (orchestrator,
	// scheduler, connection controller); a single connection avoids SQLite
	// write contention.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db, path: cfg.Path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load returns the persisted record. A missing row yields the not-deployed
// record; an undecodable row yields the not-deployed record plus an error
// wrapping ErrCorrupt so the caller can surface a data-integrity warning.
func (s *SQLiteStore) Load() (*Record, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT record FROM deployment WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return NewRecord(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deployment record: %w", err)
	}

	rec := NewRecord()
	if err := json.Unmarshal(raw, rec); err != nil {
		return NewRecord(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !rec.Provider.Valid() && rec.Provider != "" {
		return NewRecord(), fmt.Errorf("%w: unknown provider %q", ErrCorrupt, rec.Provider)
	}
	return rec, nil
}

// Save atomically replaces the single deployment record.
func (s *SQLiteStore) Save(rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode deployment record: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO deployment (id, record, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save deployment record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deployment record: %w", err)
	}
	return nil
}

// Claim replaces the record inside a single write transaction, but only if
// the status stored at that moment still equals from. The _txlock=immediate
// DSN option makes Begin take the write lock up front, so the read-check-
// write below cannot interleave with another process's Claim.
func (s *SQLiteStore) Claim(rec *Record, from Status) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode deployment record: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A missing or undecodable row counts as not-deployed, matching Load.
	current := StatusNotDeployed
	var stored []byte
	err = tx.QueryRow(`SELECT record FROM deployment WHERE id = 1`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to load deployment record: %w", err)
	default:
		var prev Record
		if jsonErr := json.Unmarshal(stored, &prev); jsonErr == nil {
			current = prev.Status
		}
	}

	if current != from {
		return fmt.Errorf("%w: status is %q, expected %q", ErrClaimConflict, current, from)
	}

	_, err = tx.Exec(`
		INSERT INTO deployment (id, record, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save deployment record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deployment record: %w", err)
	}
	return nil
}

// Reset clears the store back to the not-deployed record.
func (s *SQLiteStore) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM deployment WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to reset deployment record: %w", err)
	}
	return nil
}
