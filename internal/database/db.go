// Package database provides the SQLite pool, the relay models and the Store.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/edgard/supportrelay/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// busyTimeout lets the bot, approver and dashboard processes share one database file.
const busyTimeout = 5 * time.Second

// NewDB opens the relay database at dbPath and brings its schema up to date.
func NewDB(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open relay database: %w", err)
	}

	// One writer per process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	version, err := migrateUp(db.DB, ExtractDBNameFromPath(dbPath))
	if err != nil {
		CloseDB(db)
		return nil, err
	}

	slog.Info("Relay database ready", "path", dbPath, "schema_version", version)
	return db, nil
}

// DSN adds the connection pragmas the relay relies on to a plain path or file: URI.
// In-memory databases skip WAL, which SQLite does not support for them.
func DSN(dbPath string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	if !strings.Contains(dbPath, ":memory:") && !strings.Contains(dbPath, "mode=memory") {
		params.Add("_pragma", "journal_mode(WAL)")
	}

	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + params.Encode()
}

// CloseDB closes the pool, logging rather than returning the error.
func CloseDB(db *sqlx.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		slog.Error("Failed to close relay database", "error", err)
	}
}

// migrateUp applies the embedded users/messages migrations and reports the resulting version.
func migrateUp(db *sql.DB, dbName string) (uint, error) {
	if dbName == "" {
		return 0, errors.New("migrate: empty database name")
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, fmt.Errorf("migrate: open embedded source: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{DatabaseName: dbName})
	if err != nil {
		return 0, fmt.Errorf("migrate: open sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate: apply: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migrate: read version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migrate: schema version %d is dirty", version)
	}
	return version, nil
}

// ExtractDBNameFromPath strips a file: prefix and query string and unescapes the remainder.
func ExtractDBNameFromPath(path string) string {
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i != -1 {
		path = path[:i]
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		return decoded
	}
	return path
}
