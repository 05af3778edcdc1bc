package mssql

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

// DDL guards CREATE TABLE with OBJECT_ID since T-SQL has no IF NOT EXISTS.
var DDL = ddl.Dialect{
	Quote: msIdent,
	Types: map[ddl.Type]string{
		ddl.Key:       fmt.Sprintf("NVARCHAR(%d)", schema.KeyLen),
		ddl.Text:      fmt.Sprintf("NVARCHAR(%d)", schema.TextLen),
		ddl.BigInt:    "BIGINT",
		ddl.Money:     fmt.Sprintf("DECIMAL(%d,%d)", schema.MoneyDigits+schema.MoneyScale, schema.MoneyScale),
		ddl.Timestamp: "DATETIME2",
	},
	Create: func(table, body string) string {
		return "IF OBJECT_ID(N'" + table + "', N'U') IS NULL CREATE TABLE " + body
	},
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDDL("mssql", DDL)
}

// wrappedRepo adapts *mssql.Repository to storage.Repository and provides Close.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() { w.closeFn() }
