package stores

import "time"

// MemoryPath opens a private in-memory database, used by tests and by
// runs that should leave no ledger behind.
const MemoryPath = ":memory:"

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
