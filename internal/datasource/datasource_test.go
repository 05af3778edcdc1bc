package datasource

import (
	"testing"

	"github.com/stretchr/testify/require"

	"shopetl/internal/datasource/file"
	"shopetl/internal/datasource/httpds"
)

func TestFromLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		loc      string
		wantHTTP bool
	}{
		{"data/orders.csv", false},
		{"/abs/inventory.csv", false},
		{"http://example.test/orders.csv", true},
		{"HTTPS://example.test/inventory.csv", true},
	}
	for _, c := range cases {
		src := FromLocation(c.loc, nil)
		require.Equal(t, c.loc, src.Name())
		if c.wantHTTP {
			require.IsType(t, &httpds.Source{}, src, c.loc)
		} else {
			require.IsType(t, &file.Local{}, src, c.loc)
		}
	}
}
