// Package sqldb implements storage.Repository on database/sql. Backends
// that go through database/sql (sqlite, mysql, mssql) supply a Dialect and
// share the statements, scanning and batching here.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"shopetl/internal/storage"
)

// Dialect holds what differs between database/sql backends.
type Dialect struct {
	// Driver is the database/sql driver name.
	Driver string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// Quote quotes an identifier.
	Quote func(string) string

	// MaxParams caps bind parameters per statement for multi-row INSERTs.
	MaxParams int

	// Lock takes the run lock without waiting.
	Lock func(ctx context.Context, db *sql.DB, key int64) (storage.Unlock, error)

	// Classify maps driver errors to storage classes.
	Classify func(err error) storage.Class

	// BulkInsert replaces the multi-row INSERT path when set.
	BulkInsert func(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) (int64, error)

	// Setup runs once after the pool is opened (pragmas, session options).
	Setup func(ctx context.Context, db *sql.DB) error

	// ColumnsQuery selects the column names of the table bound to its one
	// parameter. Empty disables column sync.
	ColumnsQuery string
}

// QuestionMark is the "?" placeholder style.
func QuestionMark(int) string { return "?" }

// Repository is a database/sql storage.Repository.
type Repository struct {
	db *sql.DB
	d  Dialect
}

var (
	_ storage.Repository   = (*Repository)(nil)
	_ storage.ColumnLister = (*Repository)(nil)
)

// Open opens a pool for dsn, pings it and runs the dialect Setup.
func Open(ctx context.Context, d Dialect, dsn string, maxConns int) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s: DSN must not be empty", d.Driver)
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Driver, err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Driver, err)
	}
	if d.Setup != nil {
		if err := d.Setup(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: setup: %w", d.Driver, err)
		}
	}
	return New(db, d), nil
}

// New wraps an open pool.
func New(db *sql.DB, d Dialect) *Repository {
	if d.Placeholder == nil {
		d.Placeholder = QuestionMark
	}
	if d.Quote == nil {
		d.Quote = func(s string) string { return s }
	}
	if d.MaxParams <= 0 {
		d.MaxParams = 999
	}
	return &Repository{db: db, d: d}
}

// DB exposes the pool, mostly for tests.
func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repository) Exec(ctx context.Context, stmt string) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: exec: %w", r.d.Driver, err)
	}
	return nil
}

// Columns implements storage.ColumnLister.
func (r *Repository) Columns(ctx context.Context, table string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if r.d.ColumnsQuery == "" {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, r.d.ColumnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("%s: columns of %s: %w", r.d.Driver, table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%s: columns of %s: %w", r.d.Driver, table, err)
		}
		out[strings.ToLower(name)] = struct{}{}
	}
	return out, rows.Err()
}

func (r *Repository) Lock(ctx context.Context, key int64) (storage.Unlock, error) {
	if r.d.Lock == nil {
		return func(context.Context) error { return nil }, nil
	}
	return r.d.Lock(ctx, r.db, key)
}

func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, d: r.d}, nil
}

func (r *Repository) Classify(err error) storage.Class {
	if r.d.Classify != nil {
		return r.d.Classify(err)
	}
	if storage.IsConnError(err) {
		return storage.Transient
	}
	return storage.Permanent
}

func (r *Repository) Close() { _ = r.db.Close() }
