package ddl

import "shopetl/internal/schema"

// Inventories is the inventories table keyed by product_id.
func Inventories() TableDef {
	return TableDef{
		Name: schema.Inventories,
		Columns: []ColumnDef{
			{Name: "product_id", Type: Key, PrimaryKey: true},
			{Name: "name", Type: Text},
			{Name: "quantity", Type: BigInt},
			{Name: "category", Type: Text, Nullable: true},
			{Name: "sub_category", Type: Text, Nullable: true},
		},
	}
}

// Orders is the orders table keyed by order_id. product_id references
// inventories, so orders can only be written after their products.
func Orders() TableDef {
	return TableDef{
		Name: schema.Orders,
		Columns: []ColumnDef{
			{Name: "order_id", Type: Key, PrimaryKey: true},
			{Name: "product_id", Type: Key},
			{Name: "quantity", Type: BigInt},
			{Name: "amount", Type: Money},
			{Name: "date_time", Type: Timestamp},
			{Name: "currency", Type: Text, Nullable: true},
			{Name: "shipping_cost", Type: Money, Nullable: true},
			{Name: "channel", Type: Text, Nullable: true},
			{Name: "channel_group", Type: Text, Nullable: true},
			{Name: "campaign", Type: Text, Nullable: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "product_id", RefTable: schema.Inventories, RefColumn: "product_id"},
		},
	}
}

// Tables lists the tables in creation order.
func Tables() []TableDef { return []TableDef{Inventories(), Orders()} }
