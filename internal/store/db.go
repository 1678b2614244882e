// Package store implements persona and session history storage on
// database/sql, backed by SQLite (modernc.org/sqlite) or PostgreSQL
// (github.com/lib/pq) depending on the DSN.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

// CurrentSchemaVersion is the latest schema version.
const CurrentSchemaVersion = 1

// Dialect is the SQL flavour of the connected database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	defaultMaxOpenConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	sqlitePragmas          = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

const schema = `
CREATE TABLE IF NOT EXISTS personas (
  id                 TEXT PRIMARY KEY,
  owner_id           TEXT NOT NULL,
  type               TEXT NOT NULL,
  name               TEXT NOT NULL,
  name_norm          TEXT NOT NULL,
  age                INTEGER,
  gender             TEXT,
  interests_json     TEXT,
  last_purchase_json TEXT,
  created_at         BIGINT NOT NULL,
  updated_at         BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_personas_owner_type_name
ON personas(owner_id, type, name_norm);

CREATE TABLE IF NOT EXISTS flow_sessions (
  id          TEXT PRIMARY KEY,
  session_id  TEXT NOT NULL UNIQUE,
  owner_id    TEXT NOT NULL,
  reason      TEXT NOT NULL,
  state_json  TEXT NOT NULL,
  created_at  BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flow_sessions_owner_created
ON flow_sessions(owner_id, created_at DESC);
`

// DB is a migrated database handle shared by the persona and session stores.
type DB struct {
	db      *sql.DB
	dialect Dialect
	logger  *logger.Logger
}

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server rather than
// a SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Open connects to the database named by dsn and applies migrations.
// maxOpenConns <= 0 keeps the default pool size.
func Open(ctx context.Context, dsn string, maxOpenConns int, log *logger.Logger) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("database DSN not set")
	}
	if log == nil {
		log = logger.Global()
	}

	d := &DB{dialect: DialectSQLite, logger: log}
	driver := "sqlite"
	if IsPostgresDSN(dsn) {
		d.dialect = DialectPostgres
		driver = "postgres"
	} else {
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dsn = withSQLitePragmas(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	d.db = db

	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("database ready", zap.String("dialect", string(d.dialect)))
	return d, nil
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || dsn == ":memory:" {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + sqlitePragmas
	}
	return dsn + "?" + sqlitePragmas
}

// migrate applies schema migrations. SQLite tracks the version in
// user_version; PostgreSQL relies on IF NOT EXISTS.
func (d *DB) migrate(ctx context.Context) error {
	if d.dialect == DialectPostgres {
		if _, err := d.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	}

	var version int
	if err := d.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}

	// Migration 0 -> 1: personas and flow_sessions
	if version < 1 {
		if _, err := d.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", CurrentSchemaVersion)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}
	return nil
}

// Dialect returns the database dialect.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Ping checks connectivity for readiness checks.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// unavailable wraps a driver error as a storage outage.
func (d *DB) unavailable(op string, err error) error {
	d.logger.Error("storage operation failed", zap.String("op", op), zap.Error(err))
	return apperr.NewStorageUnavailable(op, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// truncate drops precision the timestamp columns cannot hold.
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
