// Package db opens the steward state database and keeps its schema current.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// FileName is the database file inside the state directory.
const FileName = "steward.db"

// TimeLayout stores timestamps as fixed-width UTC text so that text order
// in ORDER BY clauses equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored timestamp. Rows written in RFC 3339 form are
// accepted too.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// DefaultPath returns the database location for a state directory.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// Open opens the SQLite database, creating its directory, and applies
// pragmas and migrations.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// pragmas run on every open. Optional ones only warn when the driver or
// filesystem refuses them.
var pragmas = []struct {
	stmt     string
	optional bool
}{
	{stmt: "PRAGMA foreign_keys=ON;"},
	{stmt: "PRAGMA journal_mode=WAL;", optional: true},
	{stmt: "PRAGMA busy_timeout=5000;"},
	{stmt: "PRAGMA synchronous=NORMAL;", optional: true},
}

func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			if p.optional {
				log.Warn().Err(err).Str("pragma", p.stmt).Msg("sqlite: optional pragma not applied")
				continue
			}
			return fmt.Errorf("apply pragma %q: %w", p.stmt, err)
		}
	}
	return nil
}

// Version returns the applied schema version.
func Version(db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	v, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// gooseMu guards goose's package-level state while migrating.
var gooseMu sync.Mutex

func migrate(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
