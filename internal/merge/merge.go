// Package merge reconciles orders against inventory by product key.
//
// Stock is read-only here: order volume never changes inventory quantities.
// Downstream reporting joins the two tables itself.
package merge

import (
	"shopetl/internal/schema"
	"shopetl/internal/validate"
)

// Joined pairs an order with the inventory row it references.
type Joined struct {
	Order     schema.OrderRecord
	Inventory schema.InventoryRecord
}

// Orphan is an order whose product is not present in the inventory batch.
type Orphan struct {
	Order  schema.OrderRecord `json:"order"`
	Reason string             `json:"reason"`
}

// Result is the outcome of Reconcile. Both slices keep the input order.
type Result struct {
	Joined  []Joined
	Orphans []Orphan
}

// Reconcile looks up every order's product in inventory. Orders with an
// unknown product are routed to Orphans with reason UnknownProduct; none
// are dropped.
func Reconcile(orders []schema.OrderRecord, inventory []schema.InventoryRecord) Result {
	byID := make(map[string]schema.InventoryRecord, len(inventory))
	for _, inv := range inventory {
		if _, dup := byID[inv.ProductID]; !dup {
			byID[inv.ProductID] = inv
		}
	}

	res := Result{Joined: make([]Joined, 0, len(orders))}
	for _, o := range orders {
		inv, ok := byID[o.ProductID]
		if !ok {
			res.Orphans = append(res.Orphans, Orphan{Order: o, Reason: validate.ReasonUnknownProduct})
			continue
		}
		res.Joined = append(res.Joined, Joined{Order: o, Inventory: inv})
	}
	return res
}

// Loadable returns the orders handed to the loader. In strict mode only
// orders joined to this run's inventory qualify. In lenient mode batch
// orphans are passed along too; the loader keeps those whose product is
// already stored and defers the rest.
func (r Result) Loadable(strict bool) []schema.OrderRecord {
	out := make([]schema.OrderRecord, 0, len(r.Joined)+len(r.Orphans))
	for _, j := range r.Joined {
		out = append(out, j.Order)
	}
	if !strict {
		for _, o := range r.Orphans {
			out = append(out, o.Order)
		}
	}
	return out
}

// Rejections renders orphans as referential rejections for reporting.
func Rejections(orphans []Orphan, lineOf func(orderID string) int) []validate.Rejection {
	out := make([]validate.Rejection, 0, len(orphans))
	for _, o := range orphans {
		line := 0
		if lineOf != nil {
			line = lineOf(o.Order.OrderID)
		}
		out = append(out, validate.Rejection{
			Line:     line,
			Key:      o.Order.OrderID,
			Category: validate.ReferentialViolation,
			Reason:   o.Reason,
			Detail:   "product_id=" + o.Order.ProductID,
		})
	}
	return out
}
