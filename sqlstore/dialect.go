package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Dialect selects the SQL flavor and database/sql driver.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// ParseDialect parses "sqlite" or "postgres" ("postgresql" and "pgx" are
// accepted aliases).
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return SQLite, fmt.Errorf("sqlstore: unknown dialect %q", s)
	}
}

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) blobType() string {
	if d == Postgres {
		return "BYTEA"
	}
	return "BLOB"
}

// queries holds the statements of one table, rendered once.
type queries struct {
	schema     string
	get        string
	has        string
	upsert     string
	deleteLive string
	deleteAny  string
	purge      string
}

func buildQueries(d Dialect, table string) queries {
	p := d.placeholder
	return queries{
		schema: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	cache_key  TEXT PRIMARY KEY,
	value      %s NOT NULL,
	expires_at BIGINT
)`, table, d.blobType()),
		get: fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE cache_key = %s`, table, p(1)),
		has: fmt.Sprintf(`SELECT 1 FROM %s WHERE cache_key = %s AND (expires_at IS NULL OR expires_at > %s)`,
			table, p(1), p(2)),
		upsert: fmt.Sprintf(`INSERT INTO %s (cache_key, value, expires_at) VALUES (%s, %s, %s)
ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			table, p(1), p(2), p(3)),
		deleteLive: fmt.Sprintf(`DELETE FROM %s WHERE cache_key = %s AND (expires_at IS NULL OR expires_at > %s)`,
			table, p(1), p(2)),
		deleteAny: fmt.Sprintf(`DELETE FROM %s WHERE cache_key = %s`, table, p(1)),
		purge:     fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= %s`, table, p(1)),
	}
}
