package pipeline

import (
	"shopetl/internal/merge"
	"shopetl/internal/report"
	"shopetl/internal/validate"
)

// Dataset names.
const (
	Orders    = "orders"
	Inventory = "inventory"
)

// DefaultSamples is how many rejections are kept per reason.
const DefaultSamples = 3

type reasonKey struct {
	dataset  string
	category validate.Category
	reason   string
}

// Tally accumulates per-run counts. Each stage receives it, adds to it and
// hands it on; nothing else holds run state. It is not safe for concurrent
// use.
type Tally struct {
	samples  int
	read     map[string]int64
	rejected map[string]int64
	byCat    map[string]map[validate.Category]int64
	reasons  map[reasonKey]*report.ReasonCount
	orphans  report.Orphans
}

// NewTally returns an empty Tally keeping up to samples rejections per
// reason; samples <= 0 uses DefaultSamples.
func NewTally(samples int) *Tally {
	if samples <= 0 {
		samples = DefaultSamples
	}
	return &Tally{
		samples:  samples,
		read:     map[string]int64{},
		rejected: map[string]int64{},
		byCat:    map[string]map[validate.Category]int64{},
		reasons:  map[reasonKey]*report.ReasonCount{},
	}
}

// Read counts n input rows of dataset.
func (t *Tally) Read(dataset string, n int) { t.read[dataset] += int64(n) }

// Reject counts one rejected row and keeps it as a sample when there is room.
func (t *Tally) Reject(dataset string, r validate.Rejection) {
	t.rejected[dataset]++
	if t.byCat[dataset] == nil {
		t.byCat[dataset] = map[validate.Category]int64{}
	}
	t.byCat[dataset][r.Category]++
	t.reason(dataset, r)
}

// Orphan records an order excluded for an unknown product. Orphans are
// reported but do not count as rejections.
func (t *Tally) Orphan(o merge.Orphan, r validate.Rejection) {
	t.orphans.Count++
	if len(t.orphans.Samples) < t.samples {
		t.orphans.Samples = append(t.orphans.Samples, o)
	}
	t.reason(Orders, r)
}

func (t *Tally) reason(dataset string, r validate.Rejection) {
	k := reasonKey{dataset, r.Category, r.Reason}
	rc, ok := t.reasons[k]
	if !ok {
		rc = &report.ReasonCount{Dataset: dataset, Category: r.Category, Reason: r.Reason}
		t.reasons[k] = rc
	}
	rc.Count++
	if len(rc.Samples) < t.samples {
		rc.Samples = append(rc.Samples, r)
	}
}

// Counts returns the counts of dataset. Accepted is read minus rejected.
func (t *Tally) Counts(dataset string) report.DatasetCounts {
	c := report.DatasetCounts{
		Read:     t.read[dataset],
		Rejected: t.rejected[dataset],
	}
	c.Accepted = c.Read - c.Rejected
	if m := t.byCat[dataset]; len(m) > 0 {
		c.ByCategory = make(map[validate.Category]int64, len(m))
		for k, v := range m {
			c.ByCategory[k] = v
		}
	}
	return c
}

// RejectRate is rejected over read across all datasets; zero when nothing
// was read.
func (t *Tally) RejectRate() float64 {
	var read, rej int64
	for _, n := range t.read {
		read += n
	}
	for _, n := range t.rejected {
		rej += n
	}
	if read == 0 {
		return 0
	}
	return float64(rej) / float64(read)
}

// TopReasons returns every reason sorted by count, highest first.
func (t *Tally) TopReasons() []report.ReasonCount {
	out := make([]report.ReasonCount, 0, len(t.reasons))
	for _, rc := range t.reasons {
		out = append(out, *rc)
	}
	report.SortReasons(out)
	return out
}

// Orphans returns the orphan count and samples.
func (t *Tally) Orphans() report.Orphans { return t.orphans }
