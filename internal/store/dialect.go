package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// sqlDriverName maps a store driver name onto the database/sql driver that
// registers it.
func sqlDriverName(driver string) (string, error) {
	switch driver {
	case DriverSQLite, "":
		return "sqlite", nil
	case DriverPostgres:
		return "pgx", nil
	case DriverMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", driver)
	}
}

// sqliteDSN builds a DSN for the embedded store. An empty dataDir yields a
// private in-memory database.
func sqliteDSN(dataDir string) (string, error) {
	if dataDir == "" {
		return ":memory:?_pragma=foreign_keys(1)&_time_format=sqlite", nil
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "backoffice.db")
	return path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite", nil
}
