package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawRow is one parsed line of an input file. Values is keyed by canonical
// column name; a cell absent from the file is absent from the map.
type RawRow struct {
	Line   int
	Values map[string]string
}

// Get returns the raw value for column and whether it is present and not
// blank.
func (r RawRow) Get(column string) (string, bool) {
	v, ok := r.Values[column]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// OrderRecord is a validated, normalized order line. Orders are immutable
// facts keyed by OrderID.
type OrderRecord struct {
	OrderID   string
	ProductID string
	Quantity  int64
	Amount    decimal.Decimal
	DateTime  time.Time

	Currency     string
	ShippingCost *decimal.Decimal
	Channel      string
	ChannelGroup string
	Campaign     string
}

// InventoryRecord is a validated, normalized inventory row keyed by
// ProductID.
type InventoryRecord struct {
	ProductID   string
	Name        string
	Quantity    int64
	Category    string
	SubCategory string
}

// SameState reports whether the mutable fields of r and o are identical,
// i.e. whether an upsert of o over r would change nothing.
func (r InventoryRecord) SameState(o InventoryRecord) bool {
	return r.Name == o.Name &&
		r.Quantity == o.Quantity &&
		r.Category == o.Category &&
		r.SubCategory == o.SubCategory
}

// OrderColumns is the column order used for bulk order inserts.
var OrderColumns = []string{
	"order_id", "product_id", "quantity", "amount", "date_time",
	"currency", "shipping_cost", "channel", "channel_group", "campaign",
}

// InventoryColumns is the column order used for inventory writes.
var InventoryColumns = []string{"product_id", "name", "quantity", "category", "sub_category"}

// Values returns o aligned to OrderColumns. Empty optional fields become nil
// so they are stored as NULL.
func (o OrderRecord) Values() []any {
	var shipping any
	if o.ShippingCost != nil {
		shipping = *o.ShippingCost
	}
	return []any{
		o.OrderID, o.ProductID, o.Quantity, o.Amount, o.DateTime,
		nullable(o.Currency), shipping, nullable(o.Channel), nullable(o.ChannelGroup), nullable(o.Campaign),
	}
}

// Values returns r aligned to InventoryColumns.
func (r InventoryRecord) Values() []any {
	return []any{r.ProductID, r.Name, r.Quantity, nullable(r.Category), nullable(r.SubCategory)}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
