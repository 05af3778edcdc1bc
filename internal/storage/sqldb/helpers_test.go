package sqldb_test

import (
	"database/sql/driver"
	"fmt"
)

func driverBadConn() error { return fmt.Errorf("exec: %w", driver.ErrBadConn) }
