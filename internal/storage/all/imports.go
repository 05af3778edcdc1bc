// Package all wires all built-in storage backends into the storage factory.
//
// Importing it for side effects runs each backend's init, which registers
// its Factory and DDL dialect:
//
//   - "postgres" (shopetl/internal/storage/postgres)
//   - "mysql"    (shopetl/internal/storage/mysql)
//   - "mssql"    (shopetl/internal/storage/mssql)
//   - "sqlite"   (shopetl/internal/storage/sqlite)
//
// Typical usage:
//
//	import _ "shopetl/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
//
// A binary that needs only some backends can import those packages directly.
package all

import (
	_ "shopetl/internal/storage/mssql"
	_ "shopetl/internal/storage/mysql"
	_ "shopetl/internal/storage/postgres"
	_ "shopetl/internal/storage/sqlite"
)
