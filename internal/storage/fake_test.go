package storage

import (
	"context"
	"errors"
	"maps"
	"sync"

	"shopetl/internal/ddl"
	"shopetl/internal/schema"
)

var (
	errFlaky = errors.New("connection reset")
	errFK    = errors.New("foreign key constraint failed")
)

// memRepo is an in-memory Repository. Writes go to a staging copy that
// Commit publishes, so rollback semantics match a real store.
type memRepo struct {
	mu     sync.Mutex
	inv    map[string]schema.InventoryRecord
	orders map[string]schema.OrderRecord
	locked bool
	closed bool

	// beginFailures makes the next n Begin calls fail with errFlaky.
	beginFailures int
	// lockHeld makes Lock report ErrLockHeld this many times.
	lockHeld int
	// failOrders makes InsertOrders fail with this error.
	failOrders error
	// enforceFK rejects orders whose product is not stored.
	enforceFK bool

	begins int
}

func newMemRepo() *memRepo {
	return &memRepo{
		inv:    map[string]schema.InventoryRecord{},
		orders: map[string]schema.OrderRecord{},
	}
}

func (m *memRepo) Ping(context.Context) error         { return nil }
func (m *memRepo) Exec(context.Context, string) error { return nil }
func (m *memRepo) Close()                             { m.closed = true }

func (m *memRepo) Classify(err error) Class {
	switch {
	case errors.Is(err, errFlaky):
		return Transient
	case errors.Is(err, errFK):
		return Constraint
	default:
		return Permanent
	}
}

func (m *memRepo) Lock(context.Context, int64) (Unlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockHeld > 0 {
		m.lockHeld--
		return nil, ErrLockHeld
	}
	m.locked = true
	return func(context.Context) error {
		m.mu.Lock()
		m.locked = false
		m.mu.Unlock()
		return nil
	}, nil
}

func (m *memRepo) Begin(context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	if m.beginFailures > 0 {
		m.beginFailures--
		return nil, errFlaky
	}
	return &memTx{repo: m, inv: maps.Clone(m.inv), orders: maps.Clone(m.orders)}, nil
}

type memTx struct {
	repo   *memRepo
	inv    map[string]schema.InventoryRecord
	orders map[string]schema.OrderRecord
}

func (t *memTx) InventoryByID(_ context.Context, ids []string) (map[string]schema.InventoryRecord, error) {
	out := map[string]schema.InventoryRecord{}
	for _, id := range ids {
		if r, ok := t.inv[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (t *memTx) ExistingProducts(_ context.Context, ids []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := t.inv[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (t *memTx) ExistingOrders(_ context.Context, ids []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := t.orders[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (t *memTx) InsertInventory(_ context.Context, recs []schema.InventoryRecord) (int64, error) {
	for _, r := range recs {
		t.inv[r.ProductID] = r
	}
	return int64(len(recs)), nil
}

func (t *memTx) UpdateInventory(_ context.Context, recs []schema.InventoryRecord) (int64, error) {
	return t.InsertInventory(context.Background(), recs)
}

func (t *memTx) InsertOrders(_ context.Context, recs []schema.OrderRecord) (int64, error) {
	if t.repo.failOrders != nil {
		return 0, t.repo.failOrders
	}
	for _, o := range recs {
		if _, ok := t.inv[o.ProductID]; t.repo.enforceFK && !ok {
			return 0, errFK
		}
		t.orders[o.OrderID] = o
	}
	return int64(len(recs)), nil
}

func (t *memTx) Commit(context.Context) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.inv, t.repo.orders = t.inv, t.orders
	return nil
}

func (t *memTx) Rollback(context.Context) error { return nil }

var testDDLDialect = ddl.Dialect{
	Types: map[ddl.Type]string{
		ddl.Key: "TEXT", ddl.Text: "TEXT", ddl.BigInt: "INTEGER", ddl.Money: "TEXT", ddl.Timestamp: "TEXT",
	},
}
