// Package pipeline sequences a run: read both files, validate, normalize,
// reconcile orders against inventory, load, and report. The Driver owns no
// run state between runs; a Tally carries the counts through the stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"shopetl/internal/datasource"
	"shopetl/internal/errs"
	"shopetl/internal/merge"
	"shopetl/internal/metrics"
	"shopetl/internal/normalize"
	"shopetl/internal/parser/csv"
	"shopetl/internal/report"
	"shopetl/internal/schema"
	"shopetl/internal/storage"
	"shopetl/internal/validate"
)

// Input is one file of a run.
type Input struct {
	Source datasource.Source
	CSV    csv.Options
}

// Params configures one run.
type Params struct {
	Job       string
	Orders    Input
	Inventory Input
	Storage   storage.Config

	// Strict excludes orders whose product is not in this run's inventory,
	// including products already in the store, so orders-only reruns need
	// lenient mode. Lenient mode also loads orders whose product is stored.
	Strict bool

	// MaxRejectRate trips the quality breaker when rejected/read across
	// both files exceeds it. It is checked before anything is written;
	// zero tolerates no rejections.
	MaxRejectRate float64

	Workers          int
	Retry            storage.RetryPolicy
	BatchSize        int
	UnitTimeout      time.Duration
	AutoCreateSchema bool

	// DateLayouts are tried before normalize.DefaultLayouts.
	DateLayouts []string

	// Samples caps kept rejections per reason; zero uses DefaultSamples.
	Samples int
}

// Driver runs pipelines. The zero value is ready to use.
type Driver struct {
	Logger *slog.Logger

	// OpenStore opens the repository; nil uses storage.New.
	OpenStore func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// Run executes one pipeline run and returns its summary. The error is
// non-nil exactly when the summary status is Failed.
func (d *Driver) Run(ctx context.Context, p Params) (report.Summary, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &run{
		d:     d,
		p:     p,
		id:    uuid.NewString(),
		state: Idle,
		tally: NewTally(p.Samples),
		lines: map[string]int{},
	}
	r.log = logger.With("run_id", r.id, "job", p.Job)
	if len(p.DateLayouts) > 0 {
		r.norm = normalize.New(append(append([]string(nil), p.DateLayouts...), normalize.DefaultLayouts...)...)
	} else {
		r.norm = normalize.New()
	}

	started := time.Now()
	sum := report.Summary{
		RunID:     r.id,
		Job:       p.Job,
		Mode:      report.ModeLenient,
		StartedAt: started.UTC(),
	}
	if p.Strict {
		sum.Mode = report.ModeStrict
	}
	r.log.Info("pipeline: start", "mode", sum.Mode, "max_reject_rate", p.MaxRejectRate,
		"orders", name(p.Orders.Source), "inventory", name(p.Inventory.Source), "storage", p.Storage.Kind)

	failedAt, err := r.exec(ctx)

	sum.Duration = time.Since(started)
	sum.Orders = r.tally.Counts(Orders)
	sum.Inventory = r.tally.Counts(Inventory)
	sum.TopReasons = r.tally.TopReasons()
	sum.Orphans = r.tally.Orphans()
	sum.Load = r.load

	if err != nil {
		r.transition(Failed)
		sum.Status = report.StatusFailed
		sum.Stage = string(failedAt)
		sum.Error = err.Error()
		r.log.Error("pipeline: failed", "stage", failedAt, "err", err)
	} else {
		r.transition(Completed)
		sum.Status = report.StatusCompleted
	}
	metrics.RecordRun(p.Job, string(sum.Status), sum.Duration)
	return sum, err
}

func name(s datasource.Source) string {
	if s == nil {
		return ""
	}
	return s.Name()
}

type run struct {
	d     *Driver
	p     Params
	id    string
	log   *slog.Logger
	state State
	tally *Tally
	norm  *normalize.Normalizer

	orderRows []schema.RawRow
	invRows   []schema.RawRow
	orders    []schema.OrderRecord
	inventory []schema.InventoryRecord
	lines     map[string]int // order_id -> source line
	merged    merge.Result
	load      storage.LoadResult
}

func (r *run) transition(to State) {
	from := r.state
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", from, to))
	}
	r.state = to
	r.log.Info("pipeline: state", "from", from, "to", to)
	if r.d.OnTransition != nil {
		r.d.OnTransition(from, to)
	}
}

// exec runs the stages in order and returns the state that failed.
// Cancellation is checked between stages.
func (r *run) exec(ctx context.Context) (State, error) {
	stages := []struct {
		state State
		fn    func(context.Context) error
	}{
		{ReadingSources, r.read},
		{Validating, r.validate},
		{Normalizing, r.normalize},
		{Merging, r.merge},
		{Loading, r.loadStage},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return s.state, fmt.Errorf("canceled before %s: %w", s.state, err)
		}
		r.transition(s.state)
		start := time.Now()
		err := s.fn(ctx)
		metrics.RecordStep(r.p.Job, string(s.state), err, time.Since(start))
		if err != nil {
			return s.state, err
		}
	}
	return "", nil
}

func (r *run) workers() int { return max(1, r.p.Workers) }

// read loads both files concurrently. Records the csv reader could not
// parse count as read and rejected.
func (r *run) read(ctx context.Context) error {
	var orderBad, invBad []csv.LineError
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		r.orderRows, orderBad, err = readInput(gctx, r.p.Orders)
		return err
	})
	g.Go(func() (err error) {
		r.invRows, invBad, err = readInput(gctx, r.p.Inventory)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, ds := range []struct {
		name string
		rows []schema.RawRow
		bad  []csv.LineError
	}{{Orders, r.orderRows, orderBad}, {Inventory, r.invRows, invBad}} {
		r.tally.Read(ds.name, len(ds.rows)+len(ds.bad))
		for _, e := range ds.bad {
			r.tally.Reject(ds.name, validate.Rejection{
				Line:     e.Line,
				Category: validate.SchemaViolation,
				Reason:   validate.ReasonMalformedRow,
				Detail:   e.Err.Error(),
			})
		}
		r.log.Info("pipeline: read", "dataset", ds.name,
			"rows", humanize.Comma(int64(len(ds.rows))), "malformed", len(ds.bad))
	}
	return nil
}

func readInput(ctx context.Context, in Input) ([]schema.RawRow, []csv.LineError, error) {
	if in.Source == nil {
		return nil, nil, fmt.Errorf("%w: no source configured", errs.ErrSourceUnreadable)
	}
	rc, err := in.Source.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", errs.ErrSourceUnreadable, in.Source.Name(), err)
	}
	rows, bad, err := csv.ReadAll(ctx, rc, in.CSV)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", errs.ErrSourceUnreadable, in.Source.Name(), err)
	}
	return rows, bad, nil
}

func (r *run) validate(ctx context.Context) error {
	var err error
	if r.orderRows, err = r.validateRows(ctx, Orders, schema.OrdersContract(), r.orderRows); err != nil {
		return err
	}
	r.invRows, err = r.validateRows(ctx, Inventory, schema.InventoryContract(), r.invRows)
	return err
}

// validateRows checks rows against c, then rejects repeated keys keeping
// the first accepted occurrence.
func (r *run) validateRows(ctx context.Context, dataset string, c schema.Contract, rows []schema.RawRow) ([]schema.RawRow, error) {
	v := validate.New(c, r.norm)
	outs, err := v.ValidateAll(ctx, rows, r.workers())
	if err != nil {
		return nil, err
	}
	outs = validate.Dedup(outs, validate.RowKey(c))
	return keep(r.tally, dataset, outs), nil
}

// keep tallies rejections and returns the accepted values in source order.
func keep[T any](t *Tally, dataset string, outs []validate.Outcome[T]) []T {
	ok, bad := validate.Partition(outs)
	for _, rej := range bad {
		t.Reject(dataset, rej)
	}
	return ok
}

func normRejection(key string, err error) validate.Rejection {
	cat := validate.SchemaViolation
	if errors.Is(err, errs.ErrNormalization) {
		cat = validate.NormalizationError
	}
	return validate.Rejection{Key: key, Category: cat, Reason: validate.ReasonUnparsable, Detail: err.Error()}
}

func (r *run) normalize(ctx context.Context) error {
	orderOuts, err := validate.ParallelMap(ctx, r.orderRows, r.workers(), func(row schema.RawRow) validate.Outcome[schema.OrderRecord] {
		o, err := r.norm.Order(row)
		if err != nil {
			return validate.Rejected[schema.OrderRecord](row.Line, normRejection(normalize.Text(row.Values["order_id"]), err))
		}
		return validate.Accepted(row.Line, o)
	})
	if err != nil {
		return err
	}
	for _, o := range orderOuts {
		if v, ok := o.Value(); ok {
			r.lines[v.OrderID] = o.Line
		}
	}
	r.orders = keep(r.tally, Orders, orderOuts)

	invOuts, err := validate.ParallelMap(ctx, r.invRows, r.workers(), func(row schema.RawRow) validate.Outcome[schema.InventoryRecord] {
		inv, err := r.norm.Inventory(row)
		if err != nil {
			return validate.Rejected[schema.InventoryRecord](row.Line, normRejection(normalize.Text(row.Values["product_id"]), err))
		}
		return validate.Accepted(row.Line, inv)
	})
	if err != nil {
		return err
	}
	r.inventory = keep(r.tally, Inventory, invOuts)
	r.orderRows, r.invRows = nil, nil

	r.recordQuality()
	if rate := r.tally.RejectRate(); rate > r.p.MaxRejectRate {
		return fmt.Errorf("%w: %.2f%% of rows rejected, limit %.2f%%",
			errs.ErrQualityThresholdExceeded, rate*100, r.p.MaxRejectRate*100)
	}
	return nil
}

func (r *run) recordQuality() {
	for _, ds := range []string{Orders, Inventory} {
		c := r.tally.Counts(ds)
		metrics.RecordRows(r.p.Job, ds, "read", c.Read)
		metrics.RecordRows(r.p.Job, ds, "accepted", c.Accepted)
		metrics.RecordRows(r.p.Job, ds, "rejected", c.Rejected)
		for cat, n := range c.ByCategory {
			metrics.RecordRejections(r.p.Job, ds, string(cat), n)
		}
		r.log.Info("pipeline: quality", "dataset", ds,
			"read", humanize.Comma(c.Read), "accepted", humanize.Comma(c.Accepted), "rejected", humanize.Comma(c.Rejected))
	}
}

func (r *run) merge(context.Context) error {
	r.merged = merge.Reconcile(r.orders, r.inventory)
	if r.p.Strict {
		r.orphan(r.merged.Orphans)
	}
	r.log.Info("pipeline: reconciled", "joined", humanize.Comma(int64(len(r.merged.Joined))),
		"batch_orphans", len(r.merged.Orphans), "strict", r.p.Strict)
	return nil
}

func (r *run) orphan(orphans []merge.Orphan) {
	rejs := merge.Rejections(orphans, func(id string) int { return r.lines[id] })
	for i := range orphans {
		r.tally.Orphan(orphans[i], rejs[i])
	}
	metrics.RecordRows(r.p.Job, Orders, "orphaned", int64(len(orphans)))
}

func (r *run) loadStage(ctx context.Context) error {
	repo, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	if r.p.AutoCreateSchema {
		if err := storage.EnsureSchema(ctx, r.p.Storage.Kind, repo); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	l := &storage.Loader{
		Repo:        repo,
		Retry:       r.p.Retry,
		BatchSize:   r.p.BatchSize,
		UnitTimeout: r.p.UnitTimeout,
		Job:         r.p.Job,
	}
	res, deferred, err := l.Load(ctx, r.inventory, r.merged.Loadable(r.p.Strict))
	r.load = res

	if len(deferred) > 0 {
		orphans := make([]merge.Orphan, len(deferred))
		for i, o := range deferred {
			orphans[i] = merge.Orphan{Order: o, Reason: validate.ReasonUnknownProduct}
		}
		r.orphan(orphans)
	}
	for ds, tr := range map[string]storage.TableResult{Inventory: res.Inventory, Orders: res.Orders} {
		metrics.RecordRows(r.p.Job, ds, "inserted", tr.Inserted)
		metrics.RecordRows(r.p.Job, ds, "updated", tr.Updated)
		metrics.RecordRows(r.p.Job, ds, "skipped", tr.Skipped)
	}
	r.log.Info("pipeline: loaded",
		"inventory_inserted", res.Inventory.Inserted, "inventory_updated", res.Inventory.Updated,
		"inventory_skipped", res.Inventory.Skipped, "orders_inserted", res.Orders.Inserted,
		"orders_skipped", res.Orders.Skipped, "deferred", len(deferred))
	return err
}

// openStore opens the repository, retrying connection failures.
func (r *run) openStore(ctx context.Context) (storage.Repository, error) {
	open := r.d.OpenStore
	if open == nil {
		open = storage.New
	}
	classify := func(err error) storage.Class {
		if storage.IsConnError(err) {
			return storage.Transient
		}
		return storage.Permanent
	}

	var repo storage.Repository
	err := storage.Retry(ctx, r.p.Retry, classify, "open store", func() error {
		var err error
		repo, err = open(ctx, r.p.Storage)
		return err
	})
	if err != nil {
		if !errors.Is(err, errs.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: open %s: %w", errs.ErrStoreUnavailable, r.p.Storage.Kind, err)
		}
		return nil, err
	}
	return repo, nil
}
