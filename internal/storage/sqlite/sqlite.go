// Package sqlite implements a SQLite-backed storage.Repository on the pure-Go
// modernc.org/sqlite driver. SQLite has no session-scoped advisory locks, so
// the run lock is a row in etl_run_locks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"shopetl/internal/storage"
	"shopetl/internal/storage/sqldb"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a file path or a file: URI, e.g. "shop.db" or
	// "file:shop.db?_pragma=journal_mode(WAL)". foreign_keys and
	// busy_timeout pragmas are added when missing.
	DSN string

	// LockTTL is how old a run lock row must be before another run may
	// take it over. Zero uses DefaultLockTTL.
	LockTTL time.Duration
}

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 2 * time.Hour

// Repository is a SQLite storage.Repository.
type Repository struct {
	*sqldb.Repository
}

// NewRepository opens the database and returns it with its cleanup func.
// The pool is limited to one connection: SQLite serialises writers anyway
// and a single conn keeps the per-connection pragmas in force.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	r, err := sqldb.Open(ctx, Dialect(cfg.LockTTL), withPragmas(cfg.DSN), 1)
	if err != nil {
		return nil, nil, err
	}
	return &Repository{Repository: r}, r.Close, nil
}

// Dialect is the sqldb dialect for SQLite.
func Dialect(lockTTL time.Duration) sqldb.Dialect {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return sqldb.Dialect{
		Driver:       "sqlite",
		Placeholder:  sqldb.QuestionMark,
		Quote:        quote,
		MaxParams:    999,
		Classify:     classify,
		ColumnsQuery: "SELECT name FROM pragma_table_info(?)",
		Lock: func(ctx context.Context, db *sql.DB, key int64) (storage.Unlock, error) {
			return lockRow(ctx, db, key, lockTTL)
		},
	}
}

func quote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func withPragmas(dsn string) string {
	var add []string
	if !strings.Contains(dsn, "foreign_keys") {
		add = append(add, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		add = append(add, "_pragma=busy_timeout(5000)")
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") && sep == "?" {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(add, "&")
}

func classify(err error) storage.Class {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return storage.Constraint
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return storage.Transient
		}
		return storage.Permanent
	}
	if err != nil && strings.Contains(err.Error(), "constraint failed") {
		return storage.Constraint
	}
	if storage.IsConnError(err) {
		return storage.Transient
	}
	return storage.Permanent
}

const lockTable = "etl_run_locks"

// lockRow claims key by inserting a row owned by a fresh uuid. Rows older
// than ttl are treated as abandoned and removed first.
func lockRow(ctx context.Context, db *sql.DB, key int64, ttl time.Duration) (storage.Unlock, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+lockTable+` (
  lock_key    INTEGER PRIMARY KEY,
  owner       TEXT NOT NULL,
  acquired_at INTEGER NOT NULL
)`); err != nil {
		return nil, fmt.Errorf("sqlite: lock table: %w", err)
	}

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx,
		`DELETE FROM `+lockTable+` WHERE lock_key = ? AND acquired_at < ?`,
		key, now.Add(-ttl).Unix()); err != nil {
		return nil, fmt.Errorf("sqlite: expire lock: %w", err)
	}

	owner := uuid.NewString()
	res, err := db.ExecContext(ctx,
		`INSERT INTO `+lockTable+` (lock_key, owner, acquired_at) VALUES (?, ?, ?) ON CONFLICT (lock_key) DO NOTHING`,
		key, owner, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite: acquire lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrLockHeld
	}

	return func(ctx context.Context) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM `+lockTable+` WHERE lock_key = ? AND owner = ?`, key, owner)
		return err
	}, nil
}
