// Package normalize coerces raw field text into canonical typed values.
//
// Every function here is pure: the same raw input always yields the same
// output or the same *errs.NormalizationError, and feeding a canonical value
// back in returns it unchanged.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"shopetl/internal/errs"
	"shopetl/internal/schema"
)

// MoneyScale is the number of fractional digits kept for money fields.
const MoneyScale = schema.MoneyScale

// DefaultLayouts are the accepted input timestamp formats, tried in order.
var DefaultLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Normalizer holds the configured timestamp layouts. The zero value uses
// DefaultLayouts.
type Normalizer struct {
	layouts []string
}

// New returns a Normalizer accepting the given layouts, or DefaultLayouts
// when none are given.
func New(layouts ...string) *Normalizer {
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	return &Normalizer{layouts: append([]string(nil), layouts...)}
}

// Layouts returns the accepted timestamp layouts.
func (n *Normalizer) Layouts() []string {
	if n == nil || len(n.layouts) == 0 {
		return DefaultLayouts
	}
	return n.layouts
}

// Field coerces raw according to f.Kind.
func (n *Normalizer) Field(f schema.Field, raw string) (any, error) {
	switch f.Kind {
	case schema.KindInt:
		return Quantity(f.Name, raw)
	case schema.KindMoney:
		return Money(f.Name, raw)
	case schema.KindTimestamp:
		return n.Timestamp(f.Name, raw)
	case schema.KindCurrency:
		return Currency(f.Name, raw)
	case schema.KindCategory:
		return Category(raw), nil
	default:
		return Text(raw), nil
	}
}

// Timestamp parses raw with the configured layouts and returns the instant
// in UTC truncated to the second.
func (n *Normalizer) Timestamp(field, raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, &errs.NormalizationError{Field: field, Value: raw, Reason: "empty timestamp"}
	}
	for _, layout := range n.Layouts() {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, &errs.NormalizationError{Field: field, Value: raw, Reason: "unrecognized timestamp format"}
}

var (
	currencySymbols = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", " ", "", "\u00a0", "", "_", "")
	groupedDigits   = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	plainNumber     = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
)

// cleanNumber strips currency symbols and thousands separators, and for
// money also one leading or trailing ISO 4217 code ("USD 12", "12eur").
// Any other letter leaves the value unparsable. A comma that is not a
// thousands separator is ambiguous and rejected rather than guessed.
func cleanNumber(field, raw string, money bool) (string, error) {
	s := strings.TrimSpace(raw)
	if money {
		s = stripCurrencyCode(currencySymbols.Replace(s))
	} else {
		s = strings.NewReplacer(" ", "", "\u00a0", "", "_", "").Replace(s)
	}
	if s == "" {
		return "", &errs.NormalizationError{Field: field, Value: raw, Reason: "empty number"}
	}

	sign := ""
	if s[0] == '-' || s[0] == '+' {
		sign, s = s[:1], s[1:]
	}
	if strings.Contains(s, ",") {
		if !groupedDigits.MatchString(s) {
			return "", &errs.NormalizationError{Field: field, Value: raw, Reason: "ambiguous digit separator"}
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	if !plainNumber.MatchString(s) {
		return "", &errs.NormalizationError{Field: field, Value: raw, Reason: "not a number"}
	}
	if sign == "+" {
		sign = ""
	}
	return sign + s, nil
}

// stripCurrencyCode drops a recognized three-letter currency code at
// either end of s. Unknown letter runs ("pcs", "abc") are kept so the
// caller rejects them.
func stripCurrencyCode(s string) string {
	if len(s) < 3 {
		return s
	}
	if code := s[:3]; isLetters(code) {
		if _, err := currency.ParseISO(strings.ToUpper(code)); err == nil {
			return s[3:]
		}
		return s
	}
	if code := s[len(s)-3:]; isLetters(code) {
		if _, err := currency.ParseISO(strings.ToUpper(code)); err == nil {
			return s[:len(s)-3]
		}
	}
	return s
}

func isLetters(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// Money parses raw as a decimal rounded to MoneyScale.
func Money(field, raw string) (decimal.Decimal, error) {
	s, err := cleanNumber(field, raw, true)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &errs.NormalizationError{Field: field, Value: raw, Reason: "not a decimal number"}
	}
	return d.Round(MoneyScale), nil
}

// Quantity parses raw as a whole number. "5.0" is accepted; "5.5" and
// unit suffixes such as "12pcs" are not.
func Quantity(field, raw string) (int64, error) {
	s, err := cleanNumber(field, raw, false)
	if err != nil {
		return 0, err
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return 0, &errs.NormalizationError{Field: field, Value: raw, Reason: "not a whole number"}
	}
	if !d.BigInt().IsInt64() {
		return 0, &errs.NormalizationError{Field: field, Value: raw, Reason: "out of range"}
	}
	return d.IntPart(), nil
}

// Text trims surrounding whitespace and applies Unicode NFC so that visually
// identical strings compare equal. Case is preserved.
func Text(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// Category is Text folded to lower case for case-insensitive matching.
func Category(raw string) string {
	// cases.Caser is stateful; one per call keeps Category goroutine-safe.
	return cases.Lower(language.Und).String(Text(raw))
}

// Currency is Text upper-cased; it must be a three-letter code.
func Currency(field, raw string) (string, error) {
	s := strings.ToUpper(Text(raw))
	if len(s) != 3 {
		return "", &errs.NormalizationError{Field: field, Value: raw, Reason: "currency must be a 3-letter code"}
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", &errs.NormalizationError{Field: field, Value: raw, Reason: "currency must be a 3-letter code"}
		}
	}
	return s, nil
}
