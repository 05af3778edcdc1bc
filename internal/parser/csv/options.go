package csv

import "shopetl/internal/config"

// Options configures the reader. Build it from a parser options bag with
// OptionsFrom; the zero value reads comma-separated input with a header.
type Options struct {
	// Comma is the field delimiter; ',' when zero.
	Comma rune

	// NoHeader treats the first line as data. Columns are then named by
	// position from Columns.
	NoHeader bool

	// Columns names fields positionally when NoHeader is set.
	Columns []string

	// LazyQuotes relaxes quote handling in encoding/csv.
	LazyQuotes bool

	// HeaderMap renames canonical headers (after snake_casing) to schema
	// column names, e.g. {"qty": "quantity"}.
	HeaderMap map[string]string

	// Replace rewrites known-bad byte sequences before parsing.
	Replace map[string]string
}

// OptionsFrom reads the csv keys of a parser options bag:
//
//	comma (string), has_header (bool), columns ([]string),
//	lazy_quotes (bool), header_map (object), replace (object)
func OptionsFrom(o config.Options) Options {
	return Options{
		Comma:      o.Rune("comma", ','),
		NoHeader:   !o.Bool("has_header", true),
		Columns:    o.StringSlice("columns"),
		LazyQuotes: o.Bool("lazy_quotes", false),
		HeaderMap:  o.StringMap("header_map"),
		Replace:    o.StringMap("replace"),
	}
}
