// Package postgres implements a Postgres repository using pgx v5. Inserts
// use COPY inside the unit transaction, inventory updates go out as one
// pgx.Batch, and the run lock is a session advisory lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"shopetl/internal/schema"
	"shopetl/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN      string // connection string for pgxpool
	MaxConns int32  // zero keeps the pgxpool default
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{pool: pool}, pool.Close, nil
}

func (r *Repository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// Columns implements storage.ColumnLister for the current schema.
func (r *Repository) Columns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = struct{}{}
	}
	return out, nil
}

// Exec executes a SQL statement against the pool.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return err
}

// Lock takes pg_try_advisory_lock on a connection held until unlock.
func (r *Repository) Lock(ctx context.Context, key int64) (storage.Unlock, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, storage.ErrLockHeld
	}
	return func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", key)
		return err
	}, nil
}

func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Classify maps SQLSTATEs: class 23 is an integrity violation, 40001 and
// 40P01 are serialization failure and deadlock, class 08 and 57P01 are
// lost connections.
func (r *Repository) Classify(err error) storage.Class {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case strings.HasPrefix(pe.Code, "23"):
			return storage.Constraint
		case pe.Code == "40001", pe.Code == "40P01", pe.Code == "57P01",
			strings.HasPrefix(pe.Code, "08"):
			return storage.Transient
		}
		return storage.Permanent
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || storage.IsConnError(err) {
		return storage.Transient
	}
	return storage.Permanent
}

func (r *Repository) Close() { r.pool.Close() }

// Tx is one table unit inside a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) InventoryByID(ctx context.Context, ids []string) (map[string]schema.InventoryRecord, error) {
	out := make(map[string]schema.InventoryRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx,
		`SELECT product_id, name, quantity, category, sub_category FROM inventories WHERE product_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r        schema.InventoryRecord
			cat, sub pgtype.Text
		)
		if err := rows.Scan(&r.ProductID, &r.Name, &r.Quantity, &cat, &sub); err != nil {
			return nil, err
		}
		r.Category, r.SubCategory = cat.String, sub.String
		out[r.ProductID] = r
	}
	return out, rows.Err()
}

func (t *Tx) keySet(ctx context.Context, sql string, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func (t *Tx) ExistingProducts(ctx context.Context, ids []string) (map[string]struct{}, error) {
	return t.keySet(ctx, `SELECT product_id FROM inventories WHERE product_id = ANY($1)`, ids)
}

func (t *Tx) ExistingOrders(ctx context.Context, ids []string) (map[string]struct{}, error) {
	return t.keySet(ctx, `SELECT order_id FROM orders WHERE order_id = ANY($1)`, ids)
}

func (t *Tx) InsertInventory(ctx context.Context, recs []schema.InventoryRecord) (int64, error) {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = toCopyRow(r.Values())
	}
	return t.copy(ctx, schema.Inventories, schema.InventoryColumns, rows)
}

func (t *Tx) InsertOrders(ctx context.Context, recs []schema.OrderRecord) (int64, error) {
	rows := make([][]any, len(recs))
	for i, o := range recs {
		rows[i] = toCopyRow(o.Values())
	}
	return t.copy(ctx, schema.Orders, schema.OrderColumns, rows)
}

func (t *Tx) copy(ctx context.Context, table string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return t.tx.CopyFrom(ctx, pgx.Identifier{table}, cols, pgx.CopyFromRows(rows))
}

// UpdateInventory sends one UPDATE per record in a single round trip.
func (t *Tx) UpdateInventory(ctx context.Context, recs []schema.InventoryRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, r := range recs {
		v := r.Values()
		b.Queue(`UPDATE inventories SET name = $1, quantity = $2, category = $3, sub_category = $4 WHERE product_id = $5`,
			v[1], v[2], v[3], v[4], v[0])
	}
	br := t.tx.SendBatch(ctx, b)
	var n int64
	for _, r := range recs {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return n, fmt.Errorf("product_id=%s: %w", r.ProductID, err)
		}
		n += tag.RowsAffected()
	}
	return n, br.Close()
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// toCopyRow converts decimals to pgtype.Numeric; COPY uses the binary
// protocol and cannot take the text form decimal.Decimal offers.
func toCopyRow(vals []any) []any {
	for i, v := range vals {
		if d, ok := v.(decimal.Decimal); ok {
			vals[i] = numeric(d)
		}
	}
	return vals
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
