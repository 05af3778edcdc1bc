// Package mssql implements a Microsoft SQL Server repository. Inserts go
// through the go-mssqldb bulk copy API; the run lock is a session-owned
// sp_getapplock on a pinned connection.
package mssql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"shopetl/internal/storage"
	"shopetl/internal/storage/sqldb"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN      string
	MaxConns int
}

// Repository is an MSSQL-backed storage.Repository.
type Repository struct {
	*sqldb.Repository
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	r, err := sqldb.Open(ctx, Dialect(), cfg.DSN, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	return &Repository{Repository: r}, r.Close, nil
}

// Dialect is the sqldb dialect for SQL Server.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Driver:       "sqlserver",
		Placeholder:  func(n int) string { return "@p" + strconv.Itoa(n) },
		Quote:        msIdent,
		MaxParams:    2000,
		Classify:     classify,
		Lock:         appLock,
		BulkInsert:   bulkInsert,
		ColumnsQuery: "SELECT name FROM sys.columns WHERE object_id = OBJECT_ID(@p1)",
	}
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// bulkInsert streams rows with CopyIn inside tx. CheckConstraints keeps the
// foreign key from orders to inventories enforced during the copy.
func bulkInsert(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{CheckConstraints: true}, cols...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i, row := range rows {
		vals := make([]any, len(row))
		for j, v := range row {
			if vals[j], err = toCopyVal(v); err != nil {
				_ = stmt.Close()
				return 0, fmt.Errorf("bulk row %d: %w", i, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	return res.RowsAffected()
}

// toCopyVal resolves driver.Valuer values (decimals) since bulk copy only
// understands primitive Go types; nil stays nil.
func toCopyVal(v any) (any, error) {
	if vr, ok := v.(driver.Valuer); ok {
		return vr.Value()
	}
	return v, nil
}

// SQL Server error numbers.
const (
	errDupKey      = 2627
	errDupIndex    = 2601
	errFKConflict  = 547
	errDeadlock    = 1205
	errLockTimeout = 1222
)

func classify(err error) storage.Class {
	var me mssql.Error
	if errors.As(err, &me) {
		switch me.Number {
		case errDupKey, errDupIndex, errFKConflict:
			return storage.Constraint
		case errDeadlock, errLockTimeout:
			return storage.Transient
		}
		return storage.Permanent
	}
	if storage.IsConnError(err) {
		return storage.Transient
	}
	return storage.Permanent
}

func resource(key int64) string { return "shopetl:" + strconv.FormatInt(key, 10) }

// appLock takes a session-owned application lock without waiting. The
// lock lives as long as the pinned connection.
func appLock(ctx context.Context, db *sql.DB, key int64) (storage.Unlock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	var rc int
	err = conn.QueryRowContext(ctx, `DECLARE @rc int;
EXEC @rc = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = 0;
SELECT @rc;`, resource(key)).Scan(&rc)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mssql: sp_getapplock: %w", err)
	}
	if rc < 0 {
		conn.Close()
		return nil, storage.ErrLockHeld
	}
	return func(ctx context.Context) error {
		defer conn.Close()
		_, err := conn.ExecContext(ctx,
			`EXEC sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'`, resource(key))
		return err
	}, nil
}
