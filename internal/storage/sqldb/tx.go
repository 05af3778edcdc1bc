package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"shopetl/internal/schema"
)

// Tx is one table unit on a *sql.Tx.
type Tx struct {
	tx *sql.Tx
	d  Dialect
}

func (t *Tx) placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = t.d.Placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

func (t *Tx) columns(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = t.d.Quote(c)
	}
	return strings.Join(q, ", ")
}

func anyKeys(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// keySet runs SELECT col FROM table WHERE col IN (ids).
func (t *Tx) keySet(ctx context.Context, table, col string, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		t.d.Quote(col), t.d.Quote(table), t.d.Quote(col), t.placeholders(1, len(ids)))
	rows, err := t.tx.QueryContext(ctx, q, anyKeys(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

func (t *Tx) InventoryByID(ctx context.Context, ids []string) (map[string]schema.InventoryRecord, error) {
	out := make(map[string]schema.InventoryRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		t.columns(schema.InventoryColumns), t.d.Quote(schema.Inventories),
		t.d.Quote("product_id"), t.placeholders(1, len(ids)))
	rows, err := t.tx.QueryContext(ctx, q, anyKeys(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r        schema.InventoryRecord
			cat, sub sql.NullString
		)
		if err := rows.Scan(&r.ProductID, &r.Name, &r.Quantity, &cat, &sub); err != nil {
			return nil, err
		}
		r.Category, r.SubCategory = cat.String, sub.String
		out[r.ProductID] = r
	}
	return out, rows.Err()
}

func (t *Tx) ExistingProducts(ctx context.Context, ids []string) (map[string]struct{}, error) {
	return t.keySet(ctx, schema.Inventories, "product_id", ids)
}

func (t *Tx) ExistingOrders(ctx context.Context, ids []string) (map[string]struct{}, error) {
	return t.keySet(ctx, schema.Orders, "order_id", ids)
}

func (t *Tx) InsertInventory(ctx context.Context, recs []schema.InventoryRecord) (int64, error) {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = r.Values()
	}
	return t.insert(ctx, schema.Inventories, schema.InventoryColumns, rows)
}

func (t *Tx) InsertOrders(ctx context.Context, recs []schema.OrderRecord) (int64, error) {
	rows := make([][]any, len(recs))
	for i, o := range recs {
		rows[i] = o.Values()
	}
	return t.insert(ctx, schema.Orders, schema.OrderColumns, rows)
}

func (t *Tx) UpdateInventory(ctx context.Context, recs []schema.InventoryRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	q := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s, %s = %s, %s = %s WHERE %s = %s",
		t.d.Quote(schema.Inventories),
		t.d.Quote("name"), t.d.Placeholder(1),
		t.d.Quote("quantity"), t.d.Placeholder(2),
		t.d.Quote("category"), t.d.Placeholder(3),
		t.d.Quote("sub_category"), t.d.Placeholder(4),
		t.d.Quote("product_id"), t.d.Placeholder(5),
	)
	stmt, err := t.tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var n int64
	for _, r := range recs {
		v := r.Values()
		if _, err := stmt.ExecContext(ctx, v[1], v[2], v[3], v[4], v[0]); err != nil {
			return n, fmt.Errorf("product_id=%s: %w", r.ProductID, err)
		}
		n++
	}
	return n, nil
}

// insert writes rows with the dialect bulk path or multi-row INSERTs sized
// to stay under MaxParams.
func (t *Tx) insert(ctx context.Context, table string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if t.d.BulkInsert != nil {
		return t.d.BulkInsert(ctx, t.tx, table, cols, rows)
	}

	per := max(1, t.d.MaxParams/len(cols))
	var total int64
	for lo := 0; lo < len(rows); lo += per {
		chunk := rows[lo:min(lo+per, len(rows))]

		var sb strings.Builder
		fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", t.d.Quote(table), t.columns(cols))
		args := make([]any, 0, len(chunk)*len(cols))
		for i, row := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(" + t.placeholders(len(args)+1, len(cols)) + ")")
			args = append(args, row...)
		}

		res, err := t.tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(len(chunk))
		}
		total += n
	}
	return total, nil
}

func (t *Tx) Commit(context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
