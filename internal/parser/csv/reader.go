// Package csv reads delimited order and inventory files into raw rows keyed
// by canonical column name. It streams: memory is bounded by the row, not
// by the file.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"shopetl/internal/schema"
)

// LineError is a record that encoding/csv could not parse. The stream
// continues past it.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e LineError) Unwrap() error { return e.Err }

// logEveryN is the progress heartbeat interval in rows.
const logEveryN = 100_000

// Stream parses src and sends one RawRow per data record to out. Blank
// cells are omitted from RawRow.Values. Unparsable records are reported to
// onErr (when non-nil) and skipped. Stream closes src but not out.
//
// A read failure on the header is returned; an empty input yields no rows
// and no error.
func Stream(
	ctx context.Context,
	src io.ReadCloser,
	opt Options,
	out chan<- schema.RawRow,
	onErr func(LineError),
) error {
	defer src.Close()

	var r io.Reader = src
	for _, pat := range sortedKeys(opt.Replace) {
		r = newRewriter(r, pat, opt.Replace[pat])
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	cols := opt.Columns
	if !opt.NoHeader {
		hdr, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		cols = headerColumns(hdr, opt.HeaderMap)
	}

	emitted := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var line int
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			if onErr != nil {
				onErr(LineError{Line: line, Err: err})
			}
			continue
		}
		line, _ := cr.FieldPos(0)

		row := schema.RawRow{Line: line, Values: make(map[string]string, len(cols))}
		for i, v := range rec {
			if i >= len(cols) || cols[i] == "" || v == "" {
				continue
			}
			row.Values[cols[i]] = v
		}

		select {
		case out <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
		if emitted%logEveryN == 0 {
			slog.Debug("csv: progress", "line", line, "rows", emitted)
		}
	}
}

// ReadAll drains Stream into memory. Both datasets of a run must be fully
// known before reconciliation, so the driver reads them whole.
func ReadAll(ctx context.Context, src io.ReadCloser, opt Options) ([]schema.RawRow, []LineError, error) {
	var (
		rows []schema.RawRow
		bad  []LineError
	)
	ch := make(chan schema.RawRow, 256)
	errc := make(chan error, 1)
	go func() {
		defer close(ch)
		errc <- Stream(ctx, src, opt, ch, func(e LineError) { bad = append(bad, e) })
	}()
	for row := range ch {
		rows = append(rows, row)
	}
	if err := <-errc; err != nil {
		return nil, nil, err
	}
	return rows, bad, nil
}

func headerColumns(hdr []string, rename map[string]string) []string {
	cols := make([]string, len(hdr))
	for i, h := range hdr {
		c := schema.CanonicalHeader(h)
		if m, ok := rename[c]; ok {
			c = m
		}
		cols[i] = c
	}
	return cols
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
