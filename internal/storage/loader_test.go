package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"shopetl/internal/errs"
	"shopetl/internal/schema"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func inv(id, name string, qty int64) schema.InventoryRecord {
	return schema.InventoryRecord{ProductID: id, Name: name, Quantity: qty, Category: "tools"}
}

func ord(id, product string) schema.OrderRecord {
	return schema.OrderRecord{
		OrderID:   id,
		ProductID: product,
		Quantity:  1,
		Amount:    decimal.RequireFromString("9.99"),
		DateTime:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}
}

func newLoader(repo Repository) *Loader {
	return &Loader{Repo: repo, Retry: fastRetry, BatchSize: 2, Job: "test"}
}

func TestLoad_IdempotentReload(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	l := newLoader(repo)
	inventory := []schema.InventoryRecord{inv("p1", "Widget", 50), inv("p2", "Gadget", 5), inv("p3", "Gizmo", 0)}
	orders := []schema.OrderRecord{ord("o1", "p1"), ord("o2", "p2"), ord("o3", "p1")}

	res, deferred, err := l.Load(context.Background(), inventory, orders)
	require.NoError(t, err)
	require.Empty(t, deferred)
	require.Equal(t, TableResult{Inserted: 3}, res.Inventory)
	require.Equal(t, TableResult{Inserted: 3}, res.Orders)
	require.True(t, res.InventoryCommitted)
	require.True(t, res.OrdersCommitted)

	res, _, err = l.Load(context.Background(), inventory, orders)
	require.NoError(t, err)
	require.Equal(t, TableResult{Skipped: 3}, res.Inventory)
	require.Equal(t, TableResult{Skipped: 3}, res.Orders)
	require.Len(t, repo.inv, 3)
	require.Len(t, repo.orders, 3)
	require.False(t, repo.locked)
}

func TestLoad_InventoryUpdateVisible(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	l := newLoader(repo)

	_, _, err := l.Load(context.Background(), []schema.InventoryRecord{inv("p1", "Widget", 50)}, nil)
	require.NoError(t, err)

	res, _, err := l.Load(context.Background(), []schema.InventoryRecord{inv("p1", "Widget", 42), inv("p9", "New", 1)}, nil)
	require.NoError(t, err)
	require.Equal(t, TableResult{Inserted: 1, Updated: 1}, res.Inventory)
	require.Equal(t, int64(42), repo.inv["p1"].Quantity)
}

func TestLoad_DefersOrdersWithoutStoredProduct(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.inv["p_old"] = inv("p_old", "Legacy", 3)
	l := newLoader(repo)

	res, deferred, err := l.Load(context.Background(),
		[]schema.InventoryRecord{inv("p1", "Widget", 1)},
		[]schema.OrderRecord{ord("o1", "p1"), ord("o2", "p_old"), ord("o3", "ghost")},
	)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Orders.Inserted)
	require.Len(t, deferred, 1)
	require.Equal(t, "o3", deferred[0].OrderID)
	require.NotContains(t, repo.orders, "o3")
}

func TestLoad_RetriesTransientBegin(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.beginFailures = 2
	res, _, err := newLoader(repo).Load(context.Background(), []schema.InventoryRecord{inv("p1", "W", 1)}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Inventory.Inserted)
	require.Equal(t, 4, repo.begins) // 3 for inventory, 1 for orders
}

func TestLoad_StoreUnavailableAfterBudget(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.beginFailures = 100
	res, _, err := newLoader(repo).Load(context.Background(), []schema.InventoryRecord{inv("p1", "W", 1)}, nil)
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.ErrorIs(t, err, errFlaky)
	require.False(t, res.InventoryCommitted)
	require.Equal(t, fastRetry.MaxAttempts, repo.begins)

	var se *errs.StoreError
	require.True(t, errors.As(err, &se))
	require.Equal(t, schema.Inventories, se.Table)
}

func TestLoad_OrdersConstraintKeepsInventory(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.failOrders = errFK
	res, _, err := newLoader(repo).Load(context.Background(),
		[]schema.InventoryRecord{inv("p1", "W", 1)},
		[]schema.OrderRecord{ord("o1", "p1")},
	)
	require.ErrorIs(t, err, errs.ErrConstraintViolation)
	require.True(t, res.InventoryCommitted)
	require.False(t, res.OrdersCommitted)
	require.Equal(t, int64(1), res.Inventory.Inserted)
	require.Contains(t, repo.inv, "p1")
	require.Empty(t, repo.orders)
}

func TestLoad_LockContention(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.lockHeld = 1
	_, _, err := newLoader(repo).Load(context.Background(), nil, nil)
	require.NoError(t, err)

	repo.lockHeld = 100
	_, _, err = newLoader(repo).Load(context.Background(), nil, nil)
	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.ErrorIs(t, err, ErrLockHeld)
}

func TestLoad_CanceledBeforeUnits(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newLoader(repo).Load(ctx, []schema.InventoryRecord{inv("p1", "W", 1)}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, repo.inv)
	require.False(t, repo.locked)
}

func TestPlanInventory(t *testing.T) {
	t.Parallel()

	stored := map[string]schema.InventoryRecord{
		"same":    inv("same", "A", 1),
		"changed": inv("changed", "B", 1),
	}
	p := PlanInventory([]schema.InventoryRecord{
		inv("same", "A", 1),
		inv("changed", "B", 2),
		inv("new", "C", 0),
		inv("new", "C-dup", 9),
	}, stored)

	require.Equal(t, []schema.InventoryRecord{inv("new", "C", 0)}, p.Inserts)
	require.Equal(t, []schema.InventoryRecord{inv("changed", "B", 2)}, p.Updates)
	require.Equal(t, 2, p.Unchanged)
}

func TestPlanOrders(t *testing.T) {
	t.Parallel()

	p := PlanOrders(
		[]schema.OrderRecord{ord("o1", "p1"), ord("o2", "p1"), ord("o2", "p1"), ord("o3", "px")},
		map[string]struct{}{"p1": {}},
		map[string]struct{}{"o1": {}},
	)
	require.Len(t, p.Inserts, 1)
	require.Equal(t, "o2", p.Inserts[0].OrderID)
	require.Equal(t, 2, p.Duplicates)
	require.Len(t, p.Deferred, 1)
}

func TestWriteBatches(t *testing.T) {
	t.Parallel()

	var sizes []int
	total, err := WriteBatches(context.Background(), "t", []int{1, 2, 3, 4, 5, 6, 7}, 3,
		func(_ context.Context, b []int) (int64, error) {
			sizes = append(sizes, len(b))
			return int64(len(b)), nil
		})
	require.NoError(t, err)
	require.Equal(t, int64(7), total)
	require.Equal(t, []int{3, 3, 1}, sizes)

	boom := errors.New("boom")
	calls := 0
	total, err = WriteBatches(context.Background(), "t", []int{1, 2, 3, 4, 5}, 2,
		func(_ context.Context, b []int) (int64, error) {
			calls++
			if calls == 2 {
				return 0, boom
			}
			return int64(len(b)), nil
		})
	require.ErrorIs(t, err, boom)
	require.Equal(t, int64(2), total)

	_, err = WriteBatches(context.Background(), "t", []int{1}, 0, nil)
	require.Error(t, err)
}

func TestLockKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, LockKey("inventories", "orders"), LockKey("inventories", "orders"))
	require.NotEqual(t, LockKey("inventories", "orders"), LockKey("orders", "inventories"))
	require.NotEqual(t, LockKey("ab", "c"), LockKey("a", "bc"))
}

func TestRetry_Classes(t *testing.T) {
	t.Parallel()

	classify := func(err error) Class { return newMemRepo().Classify(err) }

	calls := 0
	err := Retry(context.Background(), fastRetry, classify, "op", func() error {
		calls++
		return errFK
	})
	require.ErrorIs(t, err, errs.ErrConstraintViolation)
	require.Equal(t, 1, calls)

	calls = 0
	other := errors.New("syntax error")
	err = Retry(context.Background(), fastRetry, classify, "op", func() error {
		calls++
		return other
	})
	require.ErrorIs(t, err, other)
	require.NotErrorIs(t, err, errs.ErrStoreUnavailable)
	require.Equal(t, 1, calls)
}
