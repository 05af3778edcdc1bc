// Package prompush is a Prometheus Pushgateway backend for the metrics
// package. A batch run is too short-lived to be scraped, so collectors live
// in a private registry that Flush pushes under the job grouping key.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"shopetl/internal/metrics"
)

// Backend implements metrics.Backend on a Pushgateway.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stepCounter      *prometheus.CounterVec
	stepDuration     *prometheus.SummaryVec
	rowCounter       *prometheus.CounterVec
	rejectionCounter *prometheus.CounterVec
	batchCounter     prometheus.Counter
	runCounter       *prometheus.CounterVec
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend registers the collectors. jobName is the Pushgateway grouping
// key ("shopetl" when empty); gatewayURL is required.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "shopetl"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline stage executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Pipeline stage duration in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows by dataset and outcome (read, accepted, rejected, orphaned, inserted, updated, skipped).",
		}, []string{"dataset", "outcome"}),
		rejectionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RejectionsTotal,
			Help: "Rejected rows by dataset and error category.",
		}, []string{"dataset", "category"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Store lookup batches issued by the loader.",
		}),
		runCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RunsTotal,
			Help: "Finished runs by terminal status.",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{
		b.stepCounter, b.stepDuration, b.rowCounter, b.rejectionCounter, b.batchCounter, b.runCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	return b, nil
}

// IncCounter routes name to its collector; unknown names are ignored. The
// job label is carried by the grouping key, not by the series.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["dataset"], labels["outcome"]).Add(delta)
		}
	case metrics.RejectionsTotal:
		if b.rejectionCounter != nil {
			b.rejectionCounter.WithLabelValues(labels["dataset"], labels["category"]).Add(delta)
		}
	case metrics.BatchesTotal:
		if b.batchCounter != nil {
			b.batchCounter.Add(delta)
		}
	case metrics.RunsTotal:
		if b.runCounter != nil {
			b.runCounter.WithLabelValues(labels["status"]).Add(delta)
		}
	}
}

// ObserveHistogram records step durations; other names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push()
}
