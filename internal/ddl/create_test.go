package ddl

import (
	"strings"
	"testing"

	"shopetl/internal/schema"
)

var testDialect = Dialect{
	Quote: func(s string) string { return `"` + s + `"` },
	Types: map[Type]string{
		Key: "VARCHAR(64)", Text: "TEXT", BigInt: "BIGINT", Money: "NUMERIC(14,2)", Timestamp: "TIMESTAMPTZ",
	},
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		def         TableDef
		d           Dialect
		want        string
		errContains string
	}{
		{
			name:        "empty name",
			def:         TableDef{Columns: []ColumnDef{{Name: "id", Type: Key}}},
			d:           testDialect,
			errContains: "table name must not be empty",
		},
		{
			name:        "no columns",
			def:         TableDef{Name: "t"},
			d:           testDialect,
			errContains: "at least one column is required",
		},
		{
			name:        "empty column name",
			def:         TableDef{Name: "t", Columns: []ColumnDef{{Type: Key}}},
			d:           testDialect,
			errContains: "column with empty name",
		},
		{
			name:        "unmapped type",
			def:         TableDef{Name: "t", Columns: []ColumnDef{{Name: "x", Type: "blob"}}},
			d:           testDialect,
			errContains: "no SQL type for x",
		},
		{
			name: "pk and nullable",
			def: TableDef{Name: "t", Columns: []ColumnDef{
				{Name: "id", Type: Key, PrimaryKey: true},
				{Name: "note", Type: Text, Nullable: true},
			}},
			d:    testDialect,
			want: "CREATE TABLE IF NOT EXISTS \"t\" (\n  \"id\" VARCHAR(64) NOT NULL,\n  \"note\" TEXT,\n  PRIMARY KEY (\"id\")\n)",
		},
		{
			name: "custom create wrapper",
			def:  TableDef{Name: "t", Columns: []ColumnDef{{Name: "id", Type: BigInt}}},
			d: Dialect{
				Types:  testDialect.Types,
				Create: func(table, body string) string { return "IF OBJECT_ID(N'" + table + "') IS NULL CREATE TABLE " + body },
			},
			want: "IF OBJECT_ID(N't') IS NULL CREATE TABLE t (\n  id BIGINT NOT NULL\n)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := BuildCreateTableSQL(tt.def, tt.d)
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("err = %v, want containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("SQL mismatch\n got: %q\nwant: %q", got, tt.want)
			}
		})
	}
}

func TestBuildSchemaSQL_OrderAndForeignKey(t *testing.T) {
	t.Parallel()

	stmts, err := BuildSchemaSQL(testDialect)
	if err != nil {
		t.Fatalf("BuildSchemaSQL: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	if !strings.Contains(stmts[0], `"`+schema.Inventories+`"`) {
		t.Fatalf("inventories must be created first: %s", stmts[0])
	}
	wantFK := `FOREIGN KEY ("product_id") REFERENCES "inventories" ("product_id")`
	if !strings.Contains(stmts[1], wantFK) {
		t.Fatalf("orders DDL missing FK:\n%s", stmts[1])
	}
	if !strings.Contains(stmts[1], `"shipping_cost" NUMERIC(14,2),`) {
		t.Fatalf("shipping_cost should be nullable money:\n%s", stmts[1])
	}
}

func TestBuildAddColumnSQL(t *testing.T) {
	t.Parallel()

	got, err := BuildAddColumnSQL("orders", ColumnDef{Name: "campaign", Type: Text, Nullable: true}, testDialect)
	if err != nil {
		t.Fatalf("BuildAddColumnSQL: %v", err)
	}
	if want := `ALTER TABLE "orders" ADD "campaign" TEXT`; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, err := BuildAddColumnSQL("orders", ColumnDef{Name: "amount", Type: Money}, testDialect); err == nil ||
		!strings.Contains(err.Error(), "cannot add NOT NULL column amount") {
		t.Fatalf("NOT NULL column: err = %v", err)
	}
	if _, err := BuildAddColumnSQL("orders", ColumnDef{Name: "x", Type: "blob", Nullable: true}, testDialect); err == nil {
		t.Fatalf("unmapped type: expected error")
	}
}
