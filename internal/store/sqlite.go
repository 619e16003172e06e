// Package store implements the gateway's persistent state: last-login
// stamping, patch metadata repair, and the IP ban-list snapshot. It
// intentionally owns no game-world state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Database wraps a SQLite connection with thread-safe write access.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates a SQLite database at dbPath and runs the schema
// migration, creating any missing tables.
func Open(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1) // sqlite doesn't support concurrent writers
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("store: failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		log.Warn().Err(err).Msg("store: failed to enable foreign keys")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: database ping failed: %w", err)
	}

	d := &Database{db: db, path: dbPath}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("store database opened")
	return d, nil
}

func (d *Database) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			last_login_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patches (
			name TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			md5 TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ip_bans (
			cidr TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range schema {
		if _, err := d.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

func (d *Database) query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

func (d *Database) queryRow(query string, args ...interface{}) *sql.Row {
	return d.db.QueryRow(query, args...)
}
