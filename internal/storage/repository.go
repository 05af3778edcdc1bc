// Package storage defines the backend-agnostic store contract used by the
// Loader, a registry of backend factories, and the Loader itself.
//
// Backends (postgres, sqlite, mysql, mssql) register a Factory and a DDL
// dialect from init; callers open a Repository with New(ctx, Config) and
// never import a backend directly. See storage/all.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"shopetl/internal/schema"
)

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name, e.g. "postgres".
	Kind string

	// DSN is passed to the backend driver.
	DSN string

	// MaxConns caps the connection pool; zero keeps the driver default.
	MaxConns int
}

// Unlock releases a run lock.
type Unlock func(ctx context.Context) error

// ErrLockHeld is returned by Repository.Lock when another run holds the key.
// The Loader treats it as transient and retries.
var ErrLockHeld = errors.New("run lock held by another process")

// Class groups driver errors by how the Loader must react.
type Class int

const (
	// Permanent errors are neither retried nor attributed to data.
	Permanent Class = iota
	// Transient errors (connection loss, timeouts, deadlocks) are retried.
	Transient
	// Constraint errors are store-side integrity failures.
	Constraint
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Constraint:
		return "constraint"
	default:
		return "permanent"
	}
}

// Repository is the contract every backend implements.
type Repository interface {
	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Exec runs a statement outside any unit, typically DDL.
	Exec(ctx context.Context, sql string) error

	// Lock takes the advisory run lock for key without waiting. It returns
	// ErrLockHeld when another holder has it.
	Lock(ctx context.Context, key int64) (Unlock, error)

	// Begin opens the transaction of one table unit.
	Begin(ctx context.Context) (Tx, error)

	// Classify maps a driver error to a Class.
	Classify(err error) Class

	Close()
}

// Tx is one table unit. Lookups take key slices already chunked by the
// Loader; an empty slice returns an empty result without a round trip.
type Tx interface {
	// InventoryByID returns stored inventory rows for ids.
	InventoryByID(ctx context.Context, ids []string) (map[string]schema.InventoryRecord, error)

	// ExistingProducts returns which ids exist in inventories.
	ExistingProducts(ctx context.Context, ids []string) (map[string]struct{}, error)

	// ExistingOrders returns which order ids exist in orders.
	ExistingOrders(ctx context.Context, ids []string) (map[string]struct{}, error)

	InsertInventory(ctx context.Context, recs []schema.InventoryRecord) (int64, error)

	// UpdateInventory overwrites the mutable fields of existing rows.
	UpdateInventory(ctx context.Context, recs []schema.InventoryRecord) (int64, error)

	InsertOrders(ctx context.Context, recs []schema.OrderRecord) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
