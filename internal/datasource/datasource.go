// Package datasource opens the byte streams the pipeline reads orders and
// inventory from.
package datasource

import (
	"context"
	"io"
	"strings"

	"shopetl/internal/datasource/file"
	"shopetl/internal/datasource/httpds"
)

// Source yields a fresh reader over one input. Name identifies the input in
// logs and the run summary.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// FromLocation picks a Source by location: http(s) URLs are fetched with
// client (a default client when nil); anything else is a local path.
func FromLocation(loc string, client *httpds.Client) Source {
	l := strings.ToLower(loc)
	if strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
		if client == nil {
			client = httpds.NewClient(httpds.Config{})
		}
		return httpds.NewSource(client, loc)
	}
	return file.NewLocal(loc)
}
