//go:build integration

package mssql

import (
	"context"
	"os"
	"testing"
	"time"

	"shopetl/internal/schema"
	"shopetl/internal/storage"
)

// getTestDSN reads the MSSQL_TEST_DSN environment variable.
// If it is empty, the caller should skip the test.
func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MSSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MSSQL_TEST_DSN not set; skipping MSSQL integration tests")
	}
	return dsn
}

func TestSchemaAndLockIntegration(t *testing.T) {
	dsn := getTestDSN(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := storage.New(ctx, storage.Config{Kind: "mssql", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	defer repo.Close()

	if err := storage.EnsureSchema(ctx, "mssql", repo); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	// Idempotent.
	if err := storage.EnsureSchema(ctx, "mssql", repo); err != nil {
		t.Fatalf("EnsureSchema() second call error = %v", err)
	}

	key := storage.LockKey(schema.Inventories, schema.Orders)
	unlock, err := repo.Lock(ctx, key)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := repo.Lock(ctx, key); err != storage.ErrLockHeld {
		t.Fatalf("second Lock() error = %v, want ErrLockHeld", err)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
}
