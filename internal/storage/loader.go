package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shopetl/internal/errs"
	"shopetl/internal/metrics"
	"shopetl/internal/schema"
)

// TableResult counts the effect of one table unit. Skipped covers rows
// that were already stored unchanged (inventory) or already present
// (orders).
type TableResult struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Skipped  int64 `json:"skipped"`
}

// LoadResult is the outcome of Loader.Load.
type LoadResult struct {
	Inventory TableResult `json:"inventory"`
	Orders    TableResult `json:"orders"`

	// InventoryCommitted and OrdersCommitted report which units committed.
	InventoryCommitted bool `json:"inventory_committed"`
	OrdersCommitted    bool `json:"orders_committed"`
}

// DefaultBatchSize bounds lookups and writes when Loader.BatchSize is zero.
const DefaultBatchSize = 1000

// Loader writes reconciled datasets idempotently: inventory is upserted by
// product_id, orders are inserted once by order_id. Each table is one
// transaction; inventory always commits before orders.
type Loader struct {
	Repo      Repository
	Retry     RetryPolicy
	BatchSize int

	// UnitTimeout bounds one attempt of a table unit; zero means none.
	UnitTimeout time.Duration

	// Job labels metrics.
	Job string
}

func (l *Loader) batchSize() int {
	if l.BatchSize > 0 {
		return l.BatchSize
	}
	return DefaultBatchSize
}

func (l *Loader) classify(err error) Class {
	switch {
	case errors.Is(err, ErrLockHeld), errors.Is(err, context.DeadlineExceeded):
		return Transient
	default:
		return l.Repo.Classify(err)
	}
}

// Load takes the run lock, then runs the inventory unit and the orders
// unit. Orders whose product is in neither the store nor this inventory
// batch are returned as deferred; they are not written.
//
// ctx cancellation is honoured before each unit; a unit that has started
// runs to commit or rollback. On an inventory failure orders are not
// attempted. On an orders failure the committed inventory stays.
func (l *Loader) Load(
	ctx context.Context,
	inventory []schema.InventoryRecord,
	orders []schema.OrderRecord,
) (LoadResult, []schema.OrderRecord, error) {
	var res LoadResult

	unlock, err := l.lock(ctx)
	if err != nil {
		return res, nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("loader: release run lock", "err", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return res, nil, err
	}
	err = l.unit(ctx, schema.Inventories, func(ctx context.Context, tx Tx) error {
		r, err := l.loadInventory(ctx, tx, inventory)
		res.Inventory = r
		return err
	})
	if err != nil {
		res.Inventory = TableResult{}
		return res, nil, &errs.StoreError{Table: schema.Inventories, Err: err}
	}
	res.InventoryCommitted = true

	if err := ctx.Err(); err != nil {
		return res, nil, err
	}
	var deferred []schema.OrderRecord
	err = l.unit(ctx, schema.Orders, func(ctx context.Context, tx Tx) error {
		r, d, err := l.loadOrders(ctx, tx, orders)
		res.Orders, deferred = r, d
		return err
	})
	if err != nil {
		res.Orders = TableResult{}
		return res, nil, &errs.StoreError{Table: schema.Orders, Err: err}
	}
	res.OrdersCommitted = true
	return res, deferred, nil
}

func (l *Loader) lock(ctx context.Context) (Unlock, error) {
	key := LockKey(schema.Inventories, schema.Orders)
	var unlock Unlock
	err := Retry(ctx, l.Retry, l.classify, "acquire run lock", func() error {
		u, err := l.Repo.Lock(ctx, key)
		if err != nil {
			return err
		}
		unlock = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}
	slog.Debug("loader: run lock acquired", "key", key)
	return unlock, nil
}

// unit runs body in one transaction, retried as a whole. The unit ignores
// ctx cancellation; UnitTimeout bounds each attempt instead.
func (l *Loader) unit(ctx context.Context, table string, body func(context.Context, Tx) error) error {
	uctx := context.WithoutCancel(ctx)
	start := time.Now()

	err := Retry(uctx, l.Retry, l.classify, table+" unit", func() error {
		actx, cancel := uctx, context.CancelFunc(func() {})
		if l.UnitTimeout > 0 {
			actx, cancel = context.WithTimeout(uctx, l.UnitTimeout)
		}
		defer cancel()

		tx, err := l.Repo.Begin(actx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := body(actx, tx); err != nil {
			if rbErr := tx.Rollback(uctx); rbErr != nil {
				slog.Warn("loader: rollback", "table", table, "err", rbErr)
			}
			return err
		}
		if err := tx.Commit(actx); err != nil {
			_ = tx.Rollback(uctx)
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})

	metrics.RecordStep(l.Job, "load_"+table, err, time.Since(start))
	if err != nil {
		slog.Error("loader: unit rolled back", "table", table, "err", err)
		return err
	}
	slog.Info("loader: unit committed", "table", table, "elapsed", time.Since(start).Truncate(time.Millisecond))
	return nil
}

func (l *Loader) loadInventory(ctx context.Context, tx Tx, recs []schema.InventoryRecord) (TableResult, error) {
	var r TableResult
	size := l.batchSize()

	stored := make(map[string]schema.InventoryRecord, len(recs))
	for _, ids := range chunks(inventoryIDs(recs), size) {
		m, err := tx.InventoryByID(ctx, ids)
		if err != nil {
			return r, fmt.Errorf("read inventories: %w", err)
		}
		for k, v := range m {
			stored[k] = v
		}
	}

	plan := PlanInventory(recs, stored)
	r.Skipped = int64(plan.Unchanged)

	n, err := WriteBatches(ctx, schema.Inventories, plan.Inserts, size, tx.InsertInventory)
	r.Inserted = n
	if err != nil {
		return r, fmt.Errorf("insert inventories: %w", err)
	}
	n, err = WriteBatches(ctx, schema.Inventories, plan.Updates, size, tx.UpdateInventory)
	r.Updated = n
	if err != nil {
		return r, fmt.Errorf("update inventories: %w", err)
	}

	metrics.RecordBatches(l.Job, int64(len(chunks(inventoryIDs(recs), size))))
	return r, nil
}

func (l *Loader) loadOrders(ctx context.Context, tx Tx, recs []schema.OrderRecord) (TableResult, []schema.OrderRecord, error) {
	var r TableResult
	size := l.batchSize()
	orderKeys, productKeys := orderIDs(recs)

	products := make(map[string]struct{}, len(productKeys))
	for _, ids := range chunks(productKeys, size) {
		m, err := tx.ExistingProducts(ctx, ids)
		if err != nil {
			return r, nil, fmt.Errorf("read inventories: %w", err)
		}
		for k := range m {
			products[k] = struct{}{}
		}
	}

	stored := make(map[string]struct{})
	for _, ids := range chunks(orderKeys, size) {
		m, err := tx.ExistingOrders(ctx, ids)
		if err != nil {
			return r, nil, fmt.Errorf("read orders: %w", err)
		}
		for k := range m {
			stored[k] = struct{}{}
		}
	}

	plan := PlanOrders(recs, products, stored)
	r.Skipped = int64(plan.Duplicates)

	n, err := WriteBatches(ctx, schema.Orders, plan.Inserts, size, tx.InsertOrders)
	r.Inserted = n
	if err != nil {
		return r, nil, fmt.Errorf("insert orders: %w", err)
	}

	metrics.RecordBatches(l.Job, int64(len(chunks(orderKeys, size))))
	return r, plan.Deferred, nil
}
