package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// WriteBatches calls write for consecutive slices of at most size items and
// returns the summed count. It stops at the first error, returning the
// count written so far. Progress is logged per batch.
func WriteBatches[T any](
	ctx context.Context,
	table string,
	items []T,
	size int,
	write func(ctx context.Context, batch []T) (int64, error),
) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("batch size must be > 0")
	}

	var (
		total   int64
		batches int
		start   = time.Now()
		last    = start
	)
	for lo := 0; lo < len(items); lo += size {
		hi := min(lo+size, len(items))
		n, err := write(ctx, items[lo:hi])
		total += n
		if err != nil {
			slog.Debug("loader: batch failed", "table", table, "batch", batches+1, "total", total, "err", err)
			return total, err
		}

		batches++
		now := time.Now()
		rps := 0.0
		if d := now.Sub(last); d > 0 {
			rps = float64(n) / d.Seconds()
		}
		slog.Debug("loader: batch",
			"table", table,
			"batch", batches,
			"rows", n,
			"total", total,
			"rps", int64(rps),
			"elapsed", now.Sub(start).Truncate(time.Millisecond),
		)
		last = now
	}
	return total, nil
}

// chunks splits keys into slices of at most size.
func chunks(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	out := make([][]string, 0, (len(keys)+size-1)/size)
	for lo := 0; lo < len(keys); lo += size {
		out = append(out, keys[lo:min(lo+size, len(keys))])
	}
	return out
}
