// Package metrics records pipeline run metrics through a pluggable Backend.
//
// The global backend is a no-op until SetBackend installs a real one
// (prompush or datadog), so instrumented code never checks whether metrics
// are enabled.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the helpers below.
const (
	StepTotal           = "shopetl_step_total"
	StepDurationSeconds = "shopetl_step_duration_seconds"
	RowsTotal           = "shopetl_rows_total"
	RejectionsTotal     = "shopetl_rejections_total"
	BatchesTotal        = "shopetl_batches_total"
	RunsTotal           = "shopetl_runs_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is what a metrics system must provide.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordStep counts one execution of a pipeline stage and its latency.
func RecordStep(job, step string, err error, d time.Duration) {
	lbls := Labels{"job": job, "step": step, "status": status(err)}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRows counts rows of dataset by outcome: read, accepted, rejected,
// orphaned, inserted, updated, skipped.
func RecordRows(job, dataset, outcome string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"job": job, "dataset": dataset, "outcome": outcome})
}

// RecordRejections counts rejected rows of dataset by error category.
func RecordRejections(job, dataset, category string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RejectionsTotal, float64(n), Labels{"job": job, "dataset": dataset, "category": category})
}

// RecordBatches counts store round-trip batches.
func RecordBatches(job string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(n), Labels{"job": job})
}

// RecordRun counts a finished run by terminal status.
func RecordRun(job, terminal string, d time.Duration) {
	lbls := Labels{"job": job, "status": terminal}
	b := current()
	b.IncCounter(RunsTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), Labels{"job": job, "step": "run", "status": terminal})
}
