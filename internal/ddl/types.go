package ddl

// Type is a backend-neutral column type. Each dialect maps it to SQL.
type Type string

const (
	Key       Type = "key"       // short text used as a primary/foreign key
	Text      Type = "text"      // free text
	BigInt    Type = "bigint"    // 64-bit integer
	Money     Type = "money"     // exact decimal, scale 2
	Timestamp Type = "timestamp" // UTC instant
)

// ColumnDef describes one column. Names are unquoted; renderers quote them.
type ColumnDef struct {
	Name       string
	Type       Type
	Nullable   bool
	PrimaryKey bool
}

// ForeignKey declares Column REFERENCES RefTable(RefColumn).
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// TableDef is an ordered column list plus foreign keys.
type TableDef struct {
	Name        string
	Columns     []ColumnDef
	ForeignKeys []ForeignKey
}
