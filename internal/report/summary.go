// Package report builds the end-of-run Summary and ships it to sinks.
package report

import (
	"cmp"
	"slices"
	"time"

	"shopetl/internal/merge"
	"shopetl/internal/storage"
	"shopetl/internal/validate"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Mode is the orphan policy a run was executed with.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
)

// DatasetCounts tallies one input file.
type DatasetCounts struct {
	Read       int64                       `json:"read"`
	Accepted   int64                       `json:"accepted"`
	Rejected   int64                       `json:"rejected"`
	ByCategory map[validate.Category]int64 `json:"by_category,omitempty"`
}

// ReasonCount is one entry of TopReasons with its first few samples.
type ReasonCount struct {
	Dataset  string               `json:"dataset"`
	Category validate.Category    `json:"category"`
	Reason   string               `json:"reason"`
	Count    int64                `json:"count"`
	Samples  []validate.Rejection `json:"samples,omitempty"`
}

// Orphans summarises orders excluded for an unknown product.
type Orphans struct {
	Count   int64          `json:"count"`
	Samples []merge.Orphan `json:"samples,omitempty"`
}

// Summary is the single structured outcome of a run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Job       string        `json:"job,omitempty"`
	Status    Status        `json:"status"`
	Mode      Mode          `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	Orders    DatasetCounts `json:"orders"`
	Inventory DatasetCounts `json:"inventory"`

	TopReasons []ReasonCount      `json:"top_reasons,omitempty"`
	Load       storage.LoadResult `json:"load"`
	Orphans    Orphans            `json:"orphans"`

	// Stage is where a failed run stopped.
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
}

// Rejected is the number of rows rejected across both datasets.
func (s Summary) Rejected() int64 { return s.Orders.Rejected + s.Inventory.Rejected }

// SortReasons orders reasons by count descending, then by dataset and
// reason name so equal counts have a stable order.
func SortReasons(rs []ReasonCount) {
	slices.SortFunc(rs, func(a, b ReasonCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Reason, b.Reason); c != 0 {
			return c
		}
		return cmp.Compare(a.Dataset, b.Dataset)
	})
}
