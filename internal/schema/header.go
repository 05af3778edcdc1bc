package schema

import (
	"strings"
	"unicode"
)

const utf8BOM = "\uFEFF"

// CanonicalHeader maps a file header cell to its canonical column name:
// BOM and surrounding whitespace removed, camelCase split to snake_case,
// spaces and dashes folded to underscores, lower-cased.
//
//	"orderId"      -> "order_id"
//	"Sub Category" -> "sub_category"
//	"date_time"    -> "date_time"
func CanonicalHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))

	var b strings.Builder
	b.Grow(len(h) + 4)
	var prev, last rune
	for i, r := range h {
		orig := r
		switch {
		case r == ' ' || r == '-' || r == '.':
			r = '_'
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) && last != '_' {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		prev = orig
		if r == '_' && last == '_' {
			continue
		}
		b.WriteRune(r)
		last = r
	}
	return b.String()
}
