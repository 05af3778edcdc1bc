// Package validate decides, row by row, whether raw input is accepted into
// the load set or rejected with a categorized reason.
package validate

// Category groups rejection reasons by the error taxonomy.
type Category string

const (
	SchemaViolation      Category = "SchemaViolation"
	NormalizationError   Category = "NormalizationError"
	ReferentialViolation Category = "ReferentialViolation"
)

// Reason codes attached to rejections.
const (
	ReasonMissingField        = "MissingField"
	ReasonUnparsable          = "Unparsable"
	ReasonNonPositiveQuantity = "NonPositiveQuantity"
	ReasonNegativeQuantity    = "NegativeQuantity"
	ReasonNegativeAmount      = "NegativeAmount"
	ReasonBelowMinimum        = "BelowMinimum"
	ReasonTooLong             = "TooLong"
	ReasonOutOfRange          = "OutOfRange"
	ReasonDuplicateKey        = "DuplicateKey"
	ReasonUnknownProduct      = "UnknownProduct"
	ReasonMalformedRow        = "MalformedRow"
)

// Rejection explains why a row was excluded.
type Rejection struct {
	Line     int      `json:"line"`
	Key      string   `json:"key,omitempty"`
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
	Detail   string   `json:"detail,omitempty"`
}

// Outcome is the tagged result of validating one row: exactly one of
// Accepted(value) or Rejected(reason).
type Outcome[T any] struct {
	Line      int
	value     T
	rejection *Rejection
}

// Accepted returns an accepted outcome carrying v.
func Accepted[T any](line int, v T) Outcome[T] {
	return Outcome[T]{Line: line, value: v}
}

// Rejected returns a rejected outcome.
func Rejected[T any](line int, r Rejection) Outcome[T] {
	r.Line = line
	return Outcome[T]{Line: line, rejection: &r}
}

// Value returns the accepted value and true, or the zero value and false.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.rejection == nil
}

// Rejection returns the rejection and true, or nil and false.
func (o Outcome[T]) Rejection() (*Rejection, bool) {
	return o.rejection, o.rejection != nil
}

// IsAccepted reports whether o is Accepted.
func (o Outcome[T]) IsAccepted() bool { return o.rejection == nil }

// Partition splits outcomes into accepted values and rejections, keeping
// source order in both.
func Partition[T any](outs []Outcome[T]) ([]T, []Rejection) {
	var (
		ok  = make([]T, 0, len(outs))
		bad []Rejection
	)
	for _, o := range outs {
		if r, rejected := o.Rejection(); rejected {
			bad = append(bad, *r)
			continue
		}
		ok = append(ok, o.value)
	}
	return ok, bad
}
