package normalize

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"shopetl/internal/errs"
	"shopetl/internal/schema"
)

// Order builds a typed OrderRecord from a raw row that already passed
// validation against schema.OrdersContract.
func (n *Normalizer) Order(row schema.RawRow) (schema.OrderRecord, error) {
	var o schema.OrderRecord
	for _, f := range schema.OrdersContract().Fields {
		raw, ok := row.Get(f.Name)
		if !ok {
			if f.Required {
				return o, fmt.Errorf("%w: %s missing", errs.ErrSchemaViolation, f.Name)
			}
			continue
		}
		v, err := n.Field(f, raw)
		if err != nil {
			return o, err
		}
		switch f.Name {
		case "order_id":
			o.OrderID = v.(string)
		case "product_id":
			o.ProductID = v.(string)
		case "quantity":
			o.Quantity = v.(int64)
		case "amount":
			o.Amount = v.(decimal.Decimal)
		case "date_time":
			o.DateTime = v.(time.Time)
		case "currency":
			o.Currency = v.(string)
		case "shipping_cost":
			d := v.(decimal.Decimal)
			o.ShippingCost = &d
		case "channel":
			o.Channel = v.(string)
		case "channel_group":
			o.ChannelGroup = v.(string)
		case "campaign":
			o.Campaign = v.(string)
		}
	}
	return o, nil
}

// Inventory builds a typed InventoryRecord from a validated raw row.
func (n *Normalizer) Inventory(row schema.RawRow) (schema.InventoryRecord, error) {
	var r schema.InventoryRecord
	for _, f := range schema.InventoryContract().Fields {
		raw, ok := row.Get(f.Name)
		if !ok {
			if f.Required {
				return r, fmt.Errorf("%w: %s missing", errs.ErrSchemaViolation, f.Name)
			}
			continue
		}
		v, err := n.Field(f, raw)
		if err != nil {
			return r, err
		}
		switch f.Name {
		case "product_id":
			r.ProductID = v.(string)
		case "name":
			r.Name = v.(string)
		case "quantity":
			r.Quantity = v.(int64)
		case "category":
			r.Category = v.(string)
		case "sub_category":
			r.SubCategory = v.(string)
		}
	}
	return r, nil
}
