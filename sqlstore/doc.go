// Package sqlstore provides a cache.Storage backed by a single SQL table.
//
// Two dialects are supported through database/sql: SQLite (modernc.org/sqlite,
// driver "sqlite") and PostgreSQL (pgx stdlib, driver "pgx"). Rows carry an
// optional expiry in unix milliseconds which is checked on every read, so the
// storage reports native TTL support to the cache engine.
//
//	s, err := sqlstore.Open(ctx, sqlstore.Config{Dialect: sqlstore.SQLite, DSN: "file:cache.db"})
//	engine, err := cache.New(s)
package sqlstore
