// Package database is the SQLite implementation of the storage port.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"spadesk/internal/repository"
)

// DB wraps the SQLite connection pool.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

var _ repository.Store = (*DB)(nil)

// NewDB opens the database at path and creates the schema if needed.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path is the file the database lives in.
func (db *DB) Path() string { return db.path }

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			guest_ref TEXT NOT NULL,
			resource_ref TEXT NOT NULL DEFAULT '',
			location_ref TEXT NOT NULL DEFAULT '',
			start_ns INTEGER NOT NULL,
			end_ns INTEGER NOT NULL,
			services TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'booked',
			deposit_required BOOLEAN NOT NULL DEFAULT 0,
			deposit_amount INTEGER NOT NULL DEFAULT 0,
			deposit_paid BOOLEAN NOT NULL DEFAULT 0,
			deposit_refunded BOOLEAN NOT NULL DEFAULT 0,
			first_visit BOOLEAN NOT NULL DEFAULT 0,
			cancellation_reason_ref TEXT NOT NULL DEFAULT '',
			checked_in_ns INTEGER,
			service_started_ns INTEGER,
			completed_ns INTEGER,
			checked_out_ns INTEGER,
			cancelled_ns INTEGER,
			no_show_ns INTEGER,
			version INTEGER NOT NULL DEFAULT 1,
			created_ns INTEGER NOT NULL,
			updated_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_resource ON reservations(resource_ref, start_ns, end_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_location ON reservations(location_ref, start_ns, end_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_guest ON reservations(guest_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,

		`CREATE TABLE IF NOT EXISTS blocks (
			id TEXT PRIMARY KEY,
			resource_ref TEXT NOT NULL DEFAULT '',
			location_ref TEXT NOT NULL DEFAULT '',
			start_ns INTEGER NOT NULL,
			end_ns INTEGER NOT NULL,
			kind TEXT NOT NULL,
			source_reservation_id TEXT NOT NULL DEFAULT '',
			created_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_resource ON blocks(resource_ref, start_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_location ON blocks(location_ref, start_ns)`,

		`CREATE TABLE IF NOT EXISTS assignments (
			id TEXT PRIMARY KEY,
			reservation_id TEXT NOT NULL,
			resource_ref TEXT NOT NULL,
			role TEXT NOT NULL,
			FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_reservation ON assignments(reservation_id)`,

		`CREATE TABLE IF NOT EXISTS deposits (
			reservation_id TEXT PRIMARY KEY,
			amount_required INTEGER NOT NULL DEFAULT 0,
			amount_paid INTEGER NOT NULL DEFAULT 0,
			method TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			paid_ns INTEGER,
			refunded_ns INTEGER,
			FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE
		)`,

		// effective_from is a YYYY-MM-DD date; NULL marks the standing rule.
		`CREATE TABLE IF NOT EXISTS shift_rules (
			id TEXT PRIMARY KEY,
			resource_ref TEXT NOT NULL,
			day_of_week INTEGER NOT NULL,
			is_day_off BOOLEAN NOT NULL DEFAULT 0,
			start_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			effective_from TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_shift_rules_slot ON shift_rules(resource_ref, day_of_week, COALESCE(effective_from, ''))`,

		`CREATE TABLE IF NOT EXISTS locations (
			ref TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			capacity INTEGER NOT NULL DEFAULT 1,
			allowed_services TEXT NOT NULL DEFAULT '[]',
			dirty BOOLEAN NOT NULL DEFAULT 0,
			out_of_service BOOLEAN NOT NULL DEFAULT 0,
			updated_ns INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", trimSQL(query), err)
		}
	}
	return db.ensureNewColumns()
}

// ensureNewColumns adds columns introduced after the first schema version.
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE locations ADD COLUMN updated_ns INTEGER NOT NULL DEFAULT 0`,
	}
	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("migration %s: %w", trimSQL(m), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
