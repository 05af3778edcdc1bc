package storage

import (
	"strings"

	"github.com/zeebo/xxh3"
)

// LockKey derives the advisory lock key for a set of tables. Runs loading
// the same tables contend on the same key.
func LockKey(tables ...string) int64 {
	return int64(xxh3.HashString(strings.Join(tables, "\x00")))
}
