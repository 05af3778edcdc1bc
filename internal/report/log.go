package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Log writes a one-line human-readable digest of s.
func Log(l *slog.Logger, s Summary) {
	level := slog.LevelInfo
	if s.Status == StatusFailed {
		level = slog.LevelError
	}
	l.Log(context.Background(), level, "run: finished",
		"run_id", s.RunID,
		"status", s.Status,
		"mode", s.Mode,
		"duration", s.Duration.Round(time.Millisecond).String(),
		"orders_read", humanize.Comma(s.Orders.Read),
		"orders_rejected", humanize.Comma(s.Orders.Rejected),
		"inventory_read", humanize.Comma(s.Inventory.Read),
		"inventory_rejected", humanize.Comma(s.Inventory.Rejected),
		"orphans", humanize.Comma(s.Orphans.Count),
		"orders_inserted", humanize.Comma(s.Load.Orders.Inserted),
		"inventory_upserted", humanize.Comma(s.Load.Inventory.Inserted+s.Load.Inventory.Updated),
		"error", s.Error,
	)
}
