package validate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"unicode/utf16"

	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"shopetl/internal/errs"
	"shopetl/internal/normalize"
	"shopetl/internal/schema"
)

// Validator checks raw rows against a Contract. It holds no per-run state,
// so one Validator may be shared by any number of goroutines.
type Validator struct {
	contract schema.Contract
	norm     *normalize.Normalizer
}

// New returns a Validator for c. A nil Normalizer uses the defaults.
func New(c schema.Contract, n *normalize.Normalizer) *Validator {
	if n == nil {
		n = normalize.New()
	}
	return &Validator{contract: c, norm: n}
}

// Contract returns the contract rows are checked against.
func (v *Validator) Contract() schema.Contract { return v.contract }

// Validate checks one row: required fields present, every present field
// coercible, numeric lower bounds honoured and values within their column
// widths. It does not detect duplicates; see Dedup.
func (v *Validator) Validate(row schema.RawRow) Outcome[schema.RawRow] {
	key := normalize.Text(row.Values[v.contract.Key])

	for _, f := range v.contract.Fields {
		raw, ok := row.Get(f.Name)
		if !ok {
			if f.Required {
				return Rejected[schema.RawRow](row.Line, Rejection{
					Key:      key,
					Category: SchemaViolation,
					Reason:   ReasonMissingField,
					Detail:   f.Name,
				})
			}
			continue
		}

		val, err := v.norm.Field(f, raw)
		if err != nil {
			return Rejected[schema.RawRow](row.Line, Rejection{
				Key:      key,
				Category: categoryOf(err),
				Reason:   ReasonUnparsable,
				Detail:   err.Error(),
			})
		}

		if f.Min != nil && belowMin(val, *f.Min, f.MinExclusive) {
			return Rejected[schema.RawRow](row.Line, Rejection{
				Key:      key,
				Category: SchemaViolation,
				Reason:   boundReason(f),
				Detail:   fmt.Sprintf("%s=%v", f.Name, val),
			})
		}

		if reason := overLimit(f, val); reason != "" {
			return Rejected[schema.RawRow](row.Line, Rejection{
				Key:      key,
				Category: SchemaViolation,
				Reason:   reason,
				Detail:   f.Name,
			})
		}
	}
	return Accepted(row.Line, row)
}

// Seq lazily validates rows as the returned sequence is ranged over. The
// sequence is single-pass; ranging again re-validates from rows.
func (v *Validator) Seq(rows iter.Seq[schema.RawRow]) iter.Seq[Outcome[schema.RawRow]] {
	return func(yield func(Outcome[schema.RawRow]) bool) {
		for row := range rows {
			if !yield(v.Validate(row)) {
				return
			}
		}
	}
}

// ValidateAll validates rows on up to workers goroutines. The result is
// indexed like rows, so it does not depend on scheduling.
func (v *Validator) ValidateAll(ctx context.Context, rows []schema.RawRow, workers int) ([]Outcome[schema.RawRow], error) {
	return ParallelMap(ctx, rows, workers, v.Validate)
}

// Dedup rejects every accepted outcome whose key was already seen earlier in
// source order, so the first occurrence wins. Rejected outcomes do not claim
// their key.
func Dedup[T any](outs []Outcome[T], key func(T) string) []Outcome[T] {
	seen := make(map[xxh3.Uint128]int, len(outs))
	res := make([]Outcome[T], len(outs))
	for i, o := range outs {
		res[i] = o
		val, ok := o.Value()
		if !ok {
			continue
		}
		k := key(val)
		h := xxh3.HashString128(k)
		if first, dup := seen[h]; dup {
			res[i] = Rejected[T](o.Line, Rejection{
				Key:      k,
				Category: SchemaViolation,
				Reason:   ReasonDuplicateKey,
				Detail:   fmt.Sprintf("first seen on line %d", first),
			})
			continue
		}
		seen[h] = o.Line
	}
	return res
}

// RowKey returns a key function reading the contract key from raw rows.
func RowKey(c schema.Contract) func(schema.RawRow) string {
	return func(r schema.RawRow) string { return normalize.Text(r.Values[c.Key]) }
}

// ParallelMap applies fn to every element of in using up to workers
// goroutines over contiguous chunks. out[i] is always fn(in[i]).
func ParallelMap[In, Out any](ctx context.Context, in []In, workers int, fn func(In) Out) ([]Out, error) {
	out := make([]Out, len(in))
	if len(in) == 0 {
		return out, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(in) {
		workers = len(in)
	}
	chunk := (len(in) + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(in); start += chunk {
		end := min(start+chunk, len(in))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				out[i] = fn(in[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func categoryOf(err error) Category {
	if errors.Is(err, errs.ErrNormalization) {
		return NormalizationError
	}
	return SchemaViolation
}

func belowMin(val any, bound int64, exclusive bool) bool {
	switch t := val.(type) {
	case int64:
		if exclusive {
			return t <= bound
		}
		return t < bound
	case decimal.Decimal:
		c := t.Cmp(decimal.NewFromInt(bound))
		if exclusive {
			return c <= 0
		}
		return c < 0
	}
	return false
}

// overLimit returns the reason val does not fit the column of f, or "".
func overLimit(f schema.Field, val any) string {
	switch t := val.(type) {
	case string:
		if f.MaxLen > 0 && utf16Len(t) > f.MaxLen {
			return ReasonTooLong
		}
	case decimal.Decimal:
		if f.MaxDigits > 0 && t.Abs().Cmp(decimal.New(1, int32(f.MaxDigits))) >= 0 {
			return ReasonOutOfRange
		}
	}
	return ""
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

func boundReason(f schema.Field) string {
	switch {
	case f.Name == "quantity" && f.MinExclusive:
		return ReasonNonPositiveQuantity
	case f.Name == "quantity":
		return ReasonNegativeQuantity
	case f.Name == "amount":
		return ReasonNegativeAmount
	default:
		return ReasonBelowMinimum
	}
}
