package pipeline

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopetl/internal/errs"
	"shopetl/internal/report"
	"shopetl/internal/storage"
	_ "shopetl/internal/storage/sqlite"
	"shopetl/internal/validate"
)

type strSource struct {
	name, body string
	err        error
}

func (s strSource) Name() string { return s.name }

func (s strSource) Open(context.Context) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

const inventoryCSV = `productId,name,quantity,category,subCategory
p1,Widget,50,Tools,Hand
p2,Gadget,0,Tools,
p3,Gizmo,7,,
`

const ordersCSV = `orderId,productId,quantity,amount,dateTime,currency
o1,p1,2,19.98,2024-01-15 10:30:00,usd
o2,p2,1,5.00,2024-01-15T11:00:00Z,EUR
o3,prod_missing,1,3.50,2024-01-16,USD
`

var fastRetry = storage.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

func params(t *testing.T, dsn, orders, inventory string) Params {
	t.Helper()
	return Params{
		Job:              "test",
		Orders:           Input{Source: strSource{name: "orders.csv", body: orders}},
		Inventory:        Input{Source: strSource{name: "inventory.csv", body: inventory}},
		Storage:          storage.Config{Kind: "sqlite", DSN: dsn},
		Strict:           true,
		MaxRejectRate:    0.5,
		Workers:          2,
		Retry:            fastRetry,
		BatchSize:        2,
		AutoCreateSchema: true,
	}
}

func tempDSN(t *testing.T) string { return filepath.Join(t.TempDir(), "shop.db") }

func storedOrders(t *testing.T, dsn string, ids ...string) map[string]struct{} {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer repo.Close()
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	got, err := tx.ExistingOrders(ctx, ids)
	require.NoError(t, err)
	return got
}

func TestRun_StrictOrphanExcluded(t *testing.T) {
	t.Parallel()
	dsn := tempDSN(t)

	var seen []State
	d := &Driver{OnTransition: func(_, to State) { seen = append(seen, to) }}
	sum, err := d.Run(context.Background(), params(t, dsn, ordersCSV, inventoryCSV))
	require.NoError(t, err)

	require.Equal(t, report.StatusCompleted, sum.Status)
	require.Equal(t, report.ModeStrict, sum.Mode)
	require.NotEmpty(t, sum.RunID)
	require.Equal(t, []State{ReadingSources, Validating, Normalizing, Merging, Loading, Completed}, seen)

	require.Equal(t, report.DatasetCounts{Read: 3, Accepted: 3}, sum.Orders)
	require.Equal(t, report.DatasetCounts{Read: 3, Accepted: 3}, sum.Inventory)
	require.Equal(t, storage.TableResult{Inserted: 3}, sum.Load.Inventory)
	require.Equal(t, storage.TableResult{Inserted: 2}, sum.Load.Orders)

	require.Equal(t, int64(1), sum.Orphans.Count)
	require.Equal(t, "o3", sum.Orphans.Samples[0].Order.OrderID)
	require.Equal(t, validate.ReasonUnknownProduct, sum.Orphans.Samples[0].Reason)
	require.Len(t, sum.TopReasons, 1)
	require.Equal(t, validate.ReferentialViolation, sum.TopReasons[0].Category)
	require.Equal(t, 4, sum.TopReasons[0].Samples[0].Line)

	require.Equal(t, map[string]struct{}{"o1": {}, "o2": {}}, storedOrders(t, dsn, "o1", "o2", "o3"))
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	t.Parallel()
	dsn := tempDSN(t)
	d := &Driver{}

	_, err := d.Run(context.Background(), params(t, dsn, ordersCSV, inventoryCSV))
	require.NoError(t, err)

	sum, err := d.Run(context.Background(), params(t, dsn, ordersCSV, inventoryCSV))
	require.NoError(t, err)
	require.Equal(t, storage.TableResult{Skipped: 3}, sum.Load.Inventory)
	require.Equal(t, storage.TableResult{Skipped: 2}, sum.Load.Orders)
}

func TestRun_QualityThresholdFailsBeforeWriting(t *testing.T) {
	t.Parallel()

	orders := `order_id,product_id,quantity,amount,date_time
o1,p1,1,1.00,2024-01-01
o2,p1,0,1.00,2024-01-01
o3,p1,1,abc,2024-01-01
,p1,1,1.00,2024-01-01
`
	opened := 0
	d := &Driver{OpenStore: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		opened++
		return storage.New(ctx, cfg)
	}}
	p := params(t, tempDSN(t), orders, inventoryCSV)
	p.MaxRejectRate = 0.1

	sum, err := d.Run(context.Background(), p)
	require.ErrorIs(t, err, errs.ErrQualityThresholdExceeded)
	require.Equal(t, report.StatusFailed, sum.Status)
	require.Equal(t, string(Normalizing), sum.Stage)
	require.Zero(t, opened, "store must not be touched")
	require.Equal(t, int64(3), sum.Orders.Rejected)
	require.Equal(t, storage.LoadResult{}, sum.Load)
}

func TestRun_RejectionsAreCategorized(t *testing.T) {
	t.Parallel()

	orders := `order_id,product_id,quantity,amount,date_time
o1,p1,1,1.00,2024-01-01
o1,p2,1,2.00,2024-01-02
o2,p1,-1,1.00,2024-01-01
o3,p"1,1,1.00,2024-01-01
o4,p1,1,1.00,yesterday
o5,p3,3,9.00,2024-01-03
`
	p := params(t, tempDSN(t), orders, inventoryCSV)
	p.MaxRejectRate = 1
	sum, err := (&Driver{}).Run(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, int64(6), sum.Orders.Read)
	require.Equal(t, int64(4), sum.Orders.Rejected)
	require.Equal(t, int64(2), sum.Orders.Accepted)
	require.Equal(t, int64(2), sum.Load.Orders.Inserted)

	reasons := map[string]int64{}
	for _, rc := range sum.TopReasons {
		reasons[rc.Reason] += rc.Count
	}
	require.Equal(t, map[string]int64{
		validate.ReasonDuplicateKey:        1,
		validate.ReasonNonPositiveQuantity: 1,
		validate.ReasonMalformedRow:        1,
		validate.ReasonUnparsable:          1,
	}, reasons)
	require.Equal(t, int64(1), sum.Orders.ByCategory[validate.NormalizationError])
	require.Equal(t, int64(3), sum.Orders.ByCategory[validate.SchemaViolation])
}

func TestRun_LenientLoadsOrdersForStoredProducts(t *testing.T) {
	t.Parallel()
	dsn := tempDSN(t)
	d := &Driver{}

	_, err := d.Run(context.Background(), params(t, dsn, "order_id,product_id,quantity,amount,date_time\n", inventoryCSV))
	require.NoError(t, err)

	orders := `order_id,product_id,quantity,amount,date_time
o10,p1,1,1.00,2024-02-01
o11,p404,1,1.00,2024-02-01
o12,p4,1,1.00,2024-02-01
`
	p := params(t, dsn, orders, "product_id,name,quantity\np4,New,1\n")
	p.Strict = false
	sum, err := d.Run(context.Background(), p)
	require.NoError(t, err)

	require.Equal(t, report.ModeLenient, sum.Mode)
	require.Equal(t, int64(2), sum.Load.Orders.Inserted)
	require.Equal(t, int64(1), sum.Orphans.Count)
	require.Equal(t, "o11", sum.Orphans.Samples[0].Order.OrderID)
	require.Equal(t, map[string]struct{}{"o10": {}, "o12": {}}, storedOrders(t, dsn, "o10", "o11", "o12"))
}

func TestRun_StrictOrphansStoredProductMissingFromRun(t *testing.T) {
	t.Parallel()
	dsn := tempDSN(t)
	d := &Driver{}

	_, err := d.Run(context.Background(), params(t, dsn, "order_id,product_id,quantity,amount,date_time\n", inventoryCSV))
	require.NoError(t, err)

	orders := `order_id,product_id,quantity,amount,date_time
o20,p1,1,1.00,2024-02-01
o21,p4,1,1.00,2024-02-01
`
	sum, err := d.Run(context.Background(), params(t, dsn, orders, "product_id,name,quantity\np4,New,1\n"))
	require.NoError(t, err)

	require.Equal(t, report.ModeStrict, sum.Mode)
	require.Equal(t, int64(1), sum.Load.Orders.Inserted)
	require.Equal(t, int64(1), sum.Orphans.Count)
	require.Equal(t, "o20", sum.Orphans.Samples[0].Order.OrderID)
	require.Equal(t, map[string]struct{}{"o21": {}}, storedOrders(t, dsn, "o20", "o21"))
}

func TestRun_SourceUnreadable(t *testing.T) {
	t.Parallel()

	p := params(t, tempDSN(t), ordersCSV, inventoryCSV)
	p.Orders.Source = strSource{name: "orders.csv", err: errors.New("permission denied")}
	sum, err := (&Driver{}).Run(context.Background(), p)

	require.ErrorIs(t, err, errs.ErrSourceUnreadable)
	require.Equal(t, report.StatusFailed, sum.Status)
	require.Equal(t, string(ReadingSources), sum.Stage)
	require.Contains(t, sum.Error, "orders.csv")
}

func TestRun_StoreUnavailable(t *testing.T) {
	t.Parallel()

	calls := 0
	d := &Driver{OpenStore: func(context.Context, storage.Config) (storage.Repository, error) {
		calls++
		return nil, fmt.Errorf("dial: %w", driver.ErrBadConn)
	}}
	sum, err := d.Run(context.Background(), params(t, tempDSN(t), ordersCSV, inventoryCSV))

	require.ErrorIs(t, err, errs.ErrStoreUnavailable)
	require.Equal(t, string(Loading), sum.Stage)
	require.Equal(t, fastRetry.MaxAttempts, calls)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen []State
	d := &Driver{OnTransition: func(_, to State) { seen = append(seen, to) }}
	sum, err := d.Run(ctx, params(t, tempDSN(t), ordersCSV, inventoryCSV))

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, report.StatusFailed, sum.Status)
	require.Equal(t, []State{Failed}, seen)
}

func TestRun_CustomDateLayout(t *testing.T) {
	t.Parallel()

	orders := "order_id,product_id,quantity,amount,date_time\no1,p1,1,1.00,15.01.2024 10:30\n"
	p := params(t, tempDSN(t), orders, inventoryCSV)
	p.DateLayouts = []string{"02.01.2006 15:04"}
	p.MaxRejectRate = 0

	sum, err := (&Driver{}).Run(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, int64(1), sum.Load.Orders.Inserted)
}

func TestRun_OverlongKeyRejectsOnlyItsRow(t *testing.T) {
	t.Parallel()

	orders := "order_id,product_id,quantity,amount,date_time\n" +
		"o1,p1,1,1.00,2024-01-01\n" +
		strings.Repeat("x", 65) + ",p1,1,1.00,2024-01-01\n" +
		"o3,p2,1,99999999999999999.00,2024-01-01\n"
	p := params(t, tempDSN(t), orders, inventoryCSV)
	p.MaxRejectRate = 1

	sum, err := (&Driver{}).Run(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, sum.Status)
	require.Equal(t, int64(2), sum.Orders.Rejected)
	require.Equal(t, int64(1), sum.Load.Orders.Inserted)

	reasons := map[string]int64{}
	for _, rc := range sum.TopReasons {
		reasons[rc.Reason] += rc.Count
	}
	require.Equal(t, map[string]int64{validate.ReasonTooLong: 1, validate.ReasonOutOfRange: 1}, reasons)
}
