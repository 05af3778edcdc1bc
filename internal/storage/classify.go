package storage

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
)

// IsConnError reports failures of the connection itself rather than of a
// statement: dropped or refused sockets, timeouts and bad pooled conns.
// Backends use it as the transient fallback in Classify.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	case errors.As(err, &ne):
		return true
	default:
		return false
	}
}
