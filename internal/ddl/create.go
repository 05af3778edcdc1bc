// Package ddl models the orders and inventories tables independently of any
// SQL dialect and renders CREATE TABLE statements through a Dialect.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect supplies the backend-specific pieces of a CREATE TABLE statement.
type Dialect struct {
	// Quote quotes one identifier.
	Quote func(string) string

	// Types maps every Type to a SQL type name.
	Types map[Type]string

	// Create wraps the rendered "name (body)" into a complete idempotent
	// statement. Nil renders CREATE TABLE IF NOT EXISTS.
	Create func(table, body string) string
}

// BuildCreateTableSQL renders t for d:
//
//	CREATE TABLE IF NOT EXISTS "t" (
//	  "a" TEXT NOT NULL,
//	  ...,
//	  PRIMARY KEY ("a"),
//	  FOREIGN KEY ("b") REFERENCES "u" ("b")
//	)
func BuildCreateTableSQL(t TableDef, d Dialect) (string, error) {
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return "", fmt.Errorf("ddl: table name must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: table %s: at least one column is required", name)
	}
	quote := d.Quote
	if quote == nil {
		quote = func(s string) string { return s }
	}

	lines := make([]string, 0, len(t.Columns)+1+len(t.ForeignKeys))
	var pks []string
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return "", fmt.Errorf("ddl: table %s: column with empty name", name)
		}
		typ, ok := d.Types[c.Type]
		if !ok {
			return "", fmt.Errorf("ddl: table %s: no SQL type for %s (%s)", name, c.Name, c.Type)
		}
		line := quote(c.Name) + " " + typ
		if !c.Nullable {
			line += " NOT NULL"
		}
		lines = append(lines, line)
		if c.PrimaryKey {
			pks = append(pks, quote(c.Name))
		}
	}
	if len(pks) > 0 {
		lines = append(lines, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	for _, fk := range t.ForeignKeys {
		lines = append(lines, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quote(fk.Column), quote(fk.RefTable), quote(fk.RefColumn)))
	}

	body := fmt.Sprintf("%s (\n  %s\n)", quote(name), strings.Join(lines, ",\n  "))
	if d.Create != nil {
		return d.Create(name, body), nil
	}
	return "CREATE TABLE IF NOT EXISTS " + body, nil
}

// BuildSchemaSQL renders every table in Tables order.
func BuildSchemaSQL(d Dialect) ([]string, error) {
	tables := Tables()
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		s, err := BuildCreateTableSQL(t, d)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// BuildAddColumnSQL renders ALTER TABLE t ADD c. Only nullable columns can
// be added to a table that may already hold rows.
func BuildAddColumnSQL(table string, c ColumnDef, d Dialect) (string, error) {
	if !c.Nullable {
		return "", fmt.Errorf("ddl: table %s: cannot add NOT NULL column %s to an existing table", table, c.Name)
	}
	typ, ok := d.Types[c.Type]
	if !ok {
		return "", fmt.Errorf("ddl: table %s: no SQL type for %s (%s)", table, c.Name, c.Type)
	}
	quote := d.Quote
	if quote == nil {
		quote = func(s string) string { return s }
	}
	return fmt.Sprintf("ALTER TABLE %s ADD %s %s", quote(table), quote(c.Name), typ), nil
}
