package storage

import "shopetl/internal/schema"

// InventoryPlan is the write set of an inventory unit.
type InventoryPlan struct {
	Inserts   []schema.InventoryRecord
	Updates   []schema.InventoryRecord
	Unchanged int
}

// PlanInventory compares the batch with the stored rows. New product ids
// are inserted, rows whose mutable fields differ are updated, identical
// rows are left alone. A product id repeated in the batch counts once,
// first occurrence wins.
func PlanInventory(batch []schema.InventoryRecord, stored map[string]schema.InventoryRecord) InventoryPlan {
	var p InventoryPlan
	seen := make(map[string]struct{}, len(batch))
	for _, r := range batch {
		if _, dup := seen[r.ProductID]; dup {
			p.Unchanged++
			continue
		}
		seen[r.ProductID] = struct{}{}

		cur, ok := stored[r.ProductID]
		switch {
		case !ok:
			p.Inserts = append(p.Inserts, r)
		case cur.SameState(r):
			p.Unchanged++
		default:
			p.Updates = append(p.Updates, r)
		}
	}
	return p
}

// OrderPlan is the write set of an orders unit.
type OrderPlan struct {
	Inserts []schema.OrderRecord

	// Duplicates are orders already stored (or repeated in the batch).
	// Orders are immutable; duplicates are never rewritten.
	Duplicates int

	// Deferred reference products absent from the store.
	Deferred []schema.OrderRecord
}

// PlanOrders splits the batch by stored state.
func PlanOrders(batch []schema.OrderRecord, products, stored map[string]struct{}) OrderPlan {
	var p OrderPlan
	seen := make(map[string]struct{}, len(batch))
	for _, o := range batch {
		if _, ok := products[o.ProductID]; !ok {
			p.Deferred = append(p.Deferred, o)
			continue
		}
		if _, ok := stored[o.OrderID]; ok {
			p.Duplicates++
			continue
		}
		if _, dup := seen[o.OrderID]; dup {
			p.Duplicates++
			continue
		}
		seen[o.OrderID] = struct{}{}
		p.Inserts = append(p.Inserts, o)
	}
	return p
}

func inventoryIDs(recs []schema.InventoryRecord) []string {
	out := make([]string, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		if _, ok := seen[r.ProductID]; ok {
			continue
		}
		seen[r.ProductID] = struct{}{}
		out = append(out, r.ProductID)
	}
	return out
}

func orderIDs(recs []schema.OrderRecord) (orders, products []string) {
	so := make(map[string]struct{}, len(recs))
	sp := make(map[string]struct{})
	for _, o := range recs {
		if _, ok := so[o.OrderID]; !ok {
			so[o.OrderID] = struct{}{}
			orders = append(orders, o.OrderID)
		}
		if _, ok := sp[o.ProductID]; !ok {
			sp[o.ProductID] = struct{}{}
			products = append(products, o.ProductID)
		}
	}
	return orders, products
}
