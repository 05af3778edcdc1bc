package postgres

import (
	"context"
	"fmt"
	"strings"

	"shopetl/internal/ddl"
	"shopetl/internal/schema"
	"shopetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo adapts *postgres.Repository to the storage.Repository
// interface, closing through the cleanup func from NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close implements storage.Repository.Close.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Ensure wrappedRepo satisfies the interface at compile time.
var _ storage.Repository = (*wrappedRepo)(nil)

// DDL is the Postgres CREATE TABLE dialect.
var DDL = ddl.Dialect{
	Quote: pgIdent,
	Types: map[ddl.Type]string{
		ddl.Key:       "TEXT",
		ddl.Text:      "TEXT",
		ddl.BigInt:    "BIGINT",
		ddl.Money:     fmt.Sprintf("NUMERIC(%d,%d)", schema.MoneyDigits+schema.MoneyScale, schema.MoneyScale),
		ddl.Timestamp: "TIMESTAMPTZ",
	},
}

func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDDL("postgres", DDL)
}
