package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"shopetl/internal/ddl"
)

var (
	ddlMu       sync.RWMutex
	ddlDialects = map[string]ddl.Dialect{}
)

// RegisterDDL registers the DDL dialect for a storage kind. Backends call
// it from init next to Register.
func RegisterDDL(kind string, d ddl.Dialect) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlDialects[kind] = d
}

// ColumnLister is implemented by repositories that can report the columns
// of an existing table. EnsureSchema uses it to add columns that were
// declared after the table was first created.
type ColumnLister interface {
	// Columns returns the lower-cased column names of table; empty when
	// the table does not exist.
	Columns(ctx context.Context, table string) (map[string]struct{}, error)
}

// EnsureSchema creates inventories and then orders when missing, then adds
// any declared nullable column an older table lacks. It is idempotent.
func EnsureSchema(ctx context.Context, kind string, repo Repository) error {
	ddlMu.RLock()
	d, ok := ddlDialects[kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("no DDL registered for storage.kind=%q", kind)
	}

	stmts, err := ddl.BuildSchemaSQL(d)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if err := repo.Exec(ctx, s); err != nil {
			return fmt.Errorf("apply DDL: %w", err)
		}
	}

	lister, ok := repo.(ColumnLister)
	if !ok {
		return nil
	}
	for _, t := range ddl.Tables() {
		if err := syncColumns(ctx, repo, lister, t, d); err != nil {
			return err
		}
	}
	return nil
}

func syncColumns(ctx context.Context, repo Repository, lister ColumnLister, t ddl.TableDef, d ddl.Dialect) error {
	have, err := lister.Columns(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("list columns of %s: %w", t.Name, err)
	}
	for _, c := range t.Columns {
		if _, ok := have[strings.ToLower(c.Name)]; ok {
			continue
		}
		stmt, err := ddl.BuildAddColumnSQL(t.Name, c, d)
		if err != nil {
			return err
		}
		if err := repo.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
		}
		slog.Info("storage: added column", "table", t.Name, "column", c.Name)
	}
	return nil
}
