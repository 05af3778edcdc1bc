// Package schema declares the canonical shape of the orders and inventories
// datasets: typed records, field contracts, and the raw row representation
// produced by the parsers.
package schema

// Kind selects how a raw field value is coerced.
type Kind string

const (
	KindText      Kind = "text"      // trimmed, NFC, case preserved
	KindCategory  Kind = "category"  // trimmed, NFC, lower-cased
	KindCurrency  Kind = "currency"  // 3-letter upper-case code
	KindInt       Kind = "int"       // whole number
	KindMoney     Kind = "money"     // decimal, scale 2
	KindTimestamp Kind = "timestamp" // UTC instant, second precision
)

// Field declares one column of a dataset.
type Field struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required,omitempty"`

	// Min is a lower bound for int and money fields. MinExclusive turns
	// the bound into a strict one (quantity > 0).
	Min          *int64 `json:"min,omitempty"`
	MinExclusive bool   `json:"min_exclusive,omitempty"`

	// MaxLen caps text values, counted in UTF-16 code units so that
	// NVARCHAR columns hold them too. Zero is unbounded.
	MaxLen int `json:"max_len,omitempty"`

	// MaxDigits caps the integer digits of a money value. Zero is unbounded.
	MaxDigits int `json:"max_digits,omitempty"`
}

// Column widths shared by the contracts and the SQL tables. Money is
// stored as DECIMAL(MoneyDigits+MoneyScale, MoneyScale).
const (
	KeyLen      = 64
	TextLen     = 255
	MoneyDigits = 16
	MoneyScale  = 2
)

// Contract is the declared shape of a dataset.
type Contract struct {
	Name   string  `json:"name"`
	Key    string  `json:"key"`
	Fields []Field `json:"fields"`
}

// Field returns the field named name.
func (c Contract) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns returns the field names in declaration order.
func (c Contract) Columns() []string {
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Name
	}
	return out
}

func bound(v int64) *int64 { return &v }

// Dataset names double as table names in the store.
const (
	Orders      = "orders"
	Inventories = "inventories"
)

// OrdersContract returns the contract for the orders feed.
func OrdersContract() Contract {
	return Contract{
		Name: Orders,
		Key:  "order_id",
		Fields: []Field{
			{Name: "order_id", Kind: KindText, Required: true, MaxLen: KeyLen},
			{Name: "product_id", Kind: KindText, Required: true, MaxLen: KeyLen},
			{Name: "quantity", Kind: KindInt, Required: true, Min: bound(0), MinExclusive: true},
			{Name: "amount", Kind: KindMoney, Required: true, Min: bound(0), MaxDigits: MoneyDigits},
			{Name: "date_time", Kind: KindTimestamp, Required: true},
			{Name: "currency", Kind: KindCurrency},
			{Name: "shipping_cost", Kind: KindMoney, Min: bound(0), MaxDigits: MoneyDigits},
			{Name: "channel", Kind: KindText, MaxLen: TextLen},
			{Name: "channel_group", Kind: KindText, MaxLen: TextLen},
			{Name: "campaign", Kind: KindText, MaxLen: TextLen},
		},
	}
}

// InventoryContract returns the contract for the inventory feed.
func InventoryContract() Contract {
	return Contract{
		Name: Inventories,
		Key:  "product_id",
		Fields: []Field{
			{Name: "product_id", Kind: KindText, Required: true, MaxLen: KeyLen},
			{Name: "name", Kind: KindText, Required: true, MaxLen: TextLen},
			{Name: "quantity", Kind: KindInt, Required: true, Min: bound(0)},
			{Name: "category", Kind: KindCategory, MaxLen: TextLen},
			{Name: "sub_category", Kind: KindCategory, MaxLen: TextLen},
		},
	}
}
