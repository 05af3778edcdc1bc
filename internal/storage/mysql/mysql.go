// Package mysql implements a MySQL-backed storage.Repository on
// go-sql-driver/mysql. The run lock is a GET_LOCK named lock held on a
// pinned connection.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"shopetl/internal/storage"
	"shopetl/internal/storage/sqldb"
)

// Config holds MySQL repository configuration derived from storage.Config.
type Config struct {
	// DSN in go-sql-driver form, e.g. "etl:secret@tcp(db:3306)/shop".
	DSN      string
	MaxConns int
}

// Repository is a MySQL storage.Repository.
type Repository struct {
	*sqldb.Repository
}

// NewRepository opens a pool and returns it with its cleanup func.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	r, err := sqldb.Open(ctx, Dialect(), dsn, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	return &Repository{Repository: r}, r.Close, nil
}

// normalizeDSN forces UTC time handling so DATETIME columns hold the
// instants the loader wrote.
func normalizeDSN(dsn string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", fmt.Errorf("mysql: DSN must not be empty")
	}
	c, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: parse DSN: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

// Dialect is the sqldb dialect for MySQL.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Driver:       "mysql",
		Placeholder:  sqldb.QuestionMark,
		Quote:        quote,
		MaxParams:    65535,
		Classify:     classify,
		Lock:         getLock,
		ColumnsQuery: "SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?",
	}
}

func quote(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// MySQL error numbers.
const (
	erDupEntry         = 1062
	erRowIsReferenced2 = 1451
	erNoReferencedRow2 = 1452
	erLockWaitTimeout  = 1205
	erLockDeadlock     = 1213
	crServerGone       = 2006
	crServerLost       = 2013
)

func classify(err error) storage.Class {
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erDupEntry, erRowIsReferenced2, erNoReferencedRow2:
			return storage.Constraint
		case erLockWaitTimeout, erLockDeadlock, crServerGone, crServerLost:
			return storage.Transient
		}
		return storage.Permanent
	}
	if errors.Is(err, gomysql.ErrInvalidConn) || storage.IsConnError(err) {
		return storage.Transient
	}
	return storage.Permanent
}

func lockName(key int64) string { return fmt.Sprintf("shopetl:%d", key) }

// getLock holds GET_LOCK on a dedicated connection; the lock dies with the
// session, so a crashed run never leaves it behind.
func getLock(ctx context.Context, db *sql.DB, key int64) (storage.Unlock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", lockName(key)).Scan(&got); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mysql: GET_LOCK: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, storage.ErrLockHeld
	}
	return func(ctx context.Context) error {
		defer conn.Close()
		_, err := conn.ExecContext(ctx, "DO RELEASE_LOCK(?)", lockName(key))
		return err
	}, nil
}
