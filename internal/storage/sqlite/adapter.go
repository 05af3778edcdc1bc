package sqlite

import (
	"context"

	"shopetl/internal/ddl"
	"shopetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo adds a Close that calls the cleanup func from NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

var _ storage.Repository = (*wrappedRepo)(nil)

// DDL renders money as TEXT so decimals round-trip exactly and timestamps
// as ISO-8601 TEXT.
var DDL = ddl.Dialect{
	Quote: quote,
	Types: map[ddl.Type]string{
		ddl.Key:       "TEXT",
		ddl.Text:      "TEXT",
		ddl.BigInt:    "INTEGER",
		ddl.Money:     "TEXT",
		ddl.Timestamp: "TIMESTAMP",
	},
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
	storage.RegisterDDL("sqlite", DDL)
}
