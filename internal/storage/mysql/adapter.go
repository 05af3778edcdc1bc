package mysql

import (
	"context"
	"fmt"

	"shopetl/internal/ddl"
	"shopetl/internal/schema"
	"shopetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

var _ storage.Repository = (*wrappedRepo)(nil)

// DDL creates InnoDB tables so foreign keys are enforced.
var DDL = ddl.Dialect{
	Quote: quote,
	Types: map[ddl.Type]string{
		ddl.Key:       fmt.Sprintf("VARCHAR(%d)", schema.KeyLen),
		ddl.Text:      fmt.Sprintf("VARCHAR(%d)", schema.TextLen),
		ddl.BigInt:    "BIGINT",
		ddl.Money:     fmt.Sprintf("DECIMAL(%d,%d)", schema.MoneyDigits+schema.MoneyScale, schema.MoneyScale),
		ddl.Timestamp: "DATETIME(6)",
	},
	Create: func(_, body string) string {
		return "CREATE TABLE IF NOT EXISTS " + body + " ENGINE=InnoDB"
	},
}

// init registers the "mysql" backend with the factory.
func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDDL("mysql", DDL)
}

// wrappedRepo adapts *mysql.Repository to storage.Repository and provides Close.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close closes the underlying connection pool.
func (w *wrappedRepo) Close() { w.closeFn() }
