package sqldb_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"shopetl/internal/ddl"
	"shopetl/internal/schema"
	"shopetl/internal/storage"
	"shopetl/internal/storage/sqldb"
)

var testDDL = ddl.Dialect{
	Types: map[ddl.Type]string{
		ddl.Key: "TEXT", ddl.Text: "TEXT", ddl.BigInt: "INTEGER", ddl.Money: "TEXT", ddl.Timestamp: "TIMESTAMP",
	},
}

// open returns a repository whose multi-row INSERTs are limited to two rows
// of orders, so batching across statements is exercised.
func open(t *testing.T) *sqldb.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	r := sqldb.New(db, sqldb.Dialect{Driver: "sqlite", MaxParams: 2 * len(schema.OrderColumns)})
	stmts, err := ddl.BuildSchemaSQL(testDDL)
	require.NoError(t, err)
	for _, s := range stmts {
		require.NoError(t, r.Exec(context.Background(), s))
	}
	return r
}

func TestTx_InsertChunksAndLookups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := open(t)

	tx, err := r.Begin(ctx)
	require.NoError(t, err)
	n, err := tx.InsertInventory(ctx, []schema.InventoryRecord{{ProductID: "p1", Name: "A", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	var orders []schema.OrderRecord
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5"} {
		orders = append(orders, schema.OrderRecord{
			OrderID: id, ProductID: "p1", Quantity: 1,
			Amount: decimal.RequireFromString("1.50"), DateTime: time.Unix(0, 0).UTC(),
		})
	}
	n, err = tx.InsertOrders(ctx, orders)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.NoError(t, tx.Commit(ctx))

	tx, err = r.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	got, err := tx.ExistingOrders(ctx, []string{"o1", "o5", "o9"})
	require.NoError(t, err)
	require.Equal(t, map[string]struct{}{"o1": {}, "o5": {}}, got)

	products, err := tx.ExistingProducts(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, products)

	n, err = tx.UpdateInventory(ctx, []schema.InventoryRecord{{ProductID: "p1", Name: "B", Quantity: 9, Category: "c"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	inv, err := tx.InventoryByID(ctx, []string{"p1"})
	require.NoError(t, err)
	require.Equal(t, schema.InventoryRecord{ProductID: "p1", Name: "B", Quantity: 9, Category: "c"}, inv["p1"])
}

func TestRepository_Defaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := open(t)

	unlock, err := r.Lock(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
	require.NoError(t, r.Exec(ctx, "  "))
	require.Equal(t, storage.Permanent, r.Classify(sql.ErrNoRows))
	require.Equal(t, storage.Transient, r.Classify(driverBadConn()))
}

func TestOpen_EmptyDSN(t *testing.T) {
	t.Parallel()

	_, err := sqldb.Open(context.Background(), sqldb.Dialect{Driver: "sqlite"}, " ", 1)
	require.Error(t, err)
}
