package merge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"shopetl/internal/schema"
	"shopetl/internal/validate"
)

func order(id, product string) schema.OrderRecord {
	return schema.OrderRecord{OrderID: id, ProductID: product, Quantity: 1}
}

func TestReconcile(t *testing.T) {
	t.Parallel()

	inv := []schema.InventoryRecord{
		{ProductID: "prod1", Name: "Widget", Quantity: 50},
		{ProductID: "prod2", Name: "Gadget", Quantity: 0},
	}
	orders := []schema.OrderRecord{
		order("o1", "prod1"),
		order("o2", "prod_missing"),
		order("o3", "prod2"),
		order("o4", "prod1"),
	}

	res := Reconcile(orders, inv)

	require.Len(t, res.Joined, 3)
	require.Equal(t, "o1", res.Joined[0].Order.OrderID)
	require.Equal(t, "Widget", res.Joined[0].Inventory.Name)
	require.Equal(t, "o3", res.Joined[1].Order.OrderID)
	require.Equal(t, "o4", res.Joined[2].Order.OrderID)

	require.Len(t, res.Orphans, 1)
	require.Equal(t, "o2", res.Orphans[0].Order.OrderID)
	require.Equal(t, validate.ReasonUnknownProduct, res.Orphans[0].Reason)

	// Inventory is never mutated by order volume.
	require.Equal(t, int64(50), inv[0].Quantity)
}

func TestLoadable(t *testing.T) {
	t.Parallel()

	res := Reconcile(
		[]schema.OrderRecord{order("o1", "p1"), order("o2", "px")},
		[]schema.InventoryRecord{{ProductID: "p1", Name: "n"}},
	)

	strict := res.Loadable(true)
	require.Len(t, strict, 1)
	require.Equal(t, "o1", strict[0].OrderID)

	lenient := res.Loadable(false)
	require.Len(t, lenient, 2)
	require.Equal(t, "o2", lenient[1].OrderID)
}

func TestRejections(t *testing.T) {
	t.Parallel()

	got := Rejections(
		[]Orphan{{Order: order("o9", "ghost"), Reason: validate.ReasonUnknownProduct}},
		func(id string) int { return map[string]int{"o9": 11}[id] },
	)
	require.Equal(t, []validate.Rejection{{
		Line:     11,
		Key:      "o9",
		Category: validate.ReferentialViolation,
		Reason:   validate.ReasonUnknownProduct,
		Detail:   "product_id=ghost",
	}}, got)
}

func TestReconcile_Empty(t *testing.T) {
	t.Parallel()

	res := Reconcile(nil, nil)
	require.Empty(t, res.Joined)
	require.Empty(t, res.Orphans)
	require.Empty(t, res.Loadable(false))
}
